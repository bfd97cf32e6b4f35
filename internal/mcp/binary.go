package mcp

import (
	"os"
	"os/exec"
	"strings"

	apperrors "github.com/sea922/codestudio/pkg/errors"
)

// FindClaudeBinary resolves the claude CLI path. An explicit configured
// path wins; otherwise PATH is searched. Desktop launches often carry a
// stripped PATH, which is why the override exists.
func FindClaudeBinary(configured string) (string, error) {
	if configured != "" && configured != "claude" {
		if strings.ContainsRune(configured, os.PathSeparator) {
			if _, err := os.Stat(configured); err != nil {
				return "", apperrors.Wrapf(err, "mcp.FindClaudeBinary", "configured binary %s", configured)
			}
			return configured, nil
		}
		if path, err := exec.LookPath(configured); err == nil {
			return path, nil
		}
	}
	path, err := exec.LookPath("claude")
	if err != nil {
		return "", apperrors.Wrap(err, "mcp.FindClaudeBinary", "claude not found in PATH")
	}
	return path, nil
}
