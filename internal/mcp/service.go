// Package mcp keeps track of which MCP server tools have been verified
// against the claude CLI. The mapping lives in the ui_preferences table
// under the mcp_server_tools key and survives restarts; server CRUD itself
// is delegated to `claude mcp`.
package mcp

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	apperrors "github.com/sea922/codestudio/pkg/errors"
	"github.com/sea922/codestudio/pkg/logger"
)

// PrefKeyServerTools is the ui_preferences key holding the verified-tool map.
const PrefKeyServerTools = "mcp_server_tools"

// VerifiedTools maps an MCP server name to the tool names verified for it.
type VerifiedTools map[string][]string

// Server is one entry of `claude mcp list` output.
type Server struct {
	Name      string `json:"name"`
	Command   string `json:"command"`
	Connected bool   `json:"connected"`
}

// PrefStore is the slice of the preference store this package needs.
type PrefStore interface {
	GetRaw(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, value any) error
}

// Service loads and persists the verified-tool map and shells out to the
// claude binary for server listing.
type Service struct {
	prefs  PrefStore
	binary string
}

// NewService creates the service. prefs may be nil when no database is
// configured; the map is then empty and writes are dropped.
func NewService(prefs PrefStore, binary string) *Service {
	if binary == "" {
		binary = "claude"
	}
	return &Service{prefs: prefs, binary: binary}
}

// Load reads the persisted verified-tool map. An absent or corrupt value
// yields an empty map, never an error the caller has to treat as fatal.
func (s *Service) Load(ctx context.Context) VerifiedTools {
	if s.prefs == nil {
		return VerifiedTools{}
	}
	raw, err := s.prefs.GetRaw(ctx, PrefKeyServerTools)
	if err != nil {
		logger.Warn("mcp: loading verified tools failed",
			logger.FieldKey, PrefKeyServerTools,
			logger.FieldError, err,
		)
		return VerifiedTools{}
	}
	if raw == nil {
		return VerifiedTools{}
	}
	var tools VerifiedTools
	if err := json.Unmarshal(raw, &tools); err != nil {
		logger.Warn("mcp: corrupt verified-tool map, starting empty",
			logger.FieldKey, PrefKeyServerTools,
			logger.FieldError, err,
		)
		return VerifiedTools{}
	}
	if tools == nil {
		tools = VerifiedTools{}
	}
	return tools
}

// Save persists the whole verified-tool map.
func (s *Service) Save(ctx context.Context, tools VerifiedTools) error {
	if s.prefs == nil {
		return nil
	}
	if err := s.prefs.Set(ctx, PrefKeyServerTools, tools); err != nil {
		return apperrors.Wrap(err, "mcp.Save", "persist verified tools")
	}
	return nil
}

// MarkVerified records the verified tool names for one server and persists
// the updated map.
func (s *Service) MarkVerified(ctx context.Context, server string, tools []string) error {
	m := s.Load(ctx)
	m[server] = tools
	return s.Save(ctx, m)
}

// ListServers runs `claude mcp list` and parses its line-oriented output.
func (s *Service) ListServers(ctx context.Context) ([]Server, error) {
	out, err := exec.CommandContext(ctx, s.binary, "mcp", "list").Output()
	if err != nil {
		return nil, apperrors.Wrapf(err, "mcp.ListServers", "run %s mcp list", s.binary)
	}
	return parseServerList(string(out)), nil
}

// VerifyServer checks one server's connection status via `claude mcp list`.
// Unknown server names come back as ErrNotFound.
func (s *Service) VerifyServer(ctx context.Context, name string) (Server, error) {
	servers, err := s.ListServers(ctx)
	if err != nil {
		return Server{}, err
	}
	for _, srv := range servers {
		if srv.Name == name {
			logger.Info("mcp: server verified",
				logger.FieldServer, name,
				"connected", srv.Connected,
			)
			return srv, nil
		}
	}
	return Server{}, apperrors.Wrapf(apperrors.ErrNotFound, "mcp.VerifyServer", "server %s", name)
}

// parseServerList extracts servers from `claude mcp list` text output.
// Lines look like "name: npx -y some-pkg - ✓ Connected"; continuation lines
// and path-looking prefixes are skipped.
func parseServerList(out string) []Server {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" || strings.Contains(trimmed, "No MCP servers configured") {
		return nil
	}

	var servers []Server
	for _, line := range strings.Split(trimmed, "\n") {
		colon := strings.Index(line, ":")
		if colon < 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		if name == "" || strings.ContainsAny(name, "/\\") {
			continue
		}
		// 冒号后紧跟路径分隔符的是路径 (如 Windows 盘符 C:\...),
		// 真实的 server 行在冒号后有空格
		if after := line[colon+1:]; strings.HasPrefix(after, "\\") || strings.HasPrefix(after, "/") {
			continue
		}
		rest := strings.TrimSpace(line[colon+1:])
		servers = append(servers, Server{
			Name:      name,
			Command:   cleanCommandString(rest),
			Connected: strings.Contains(rest, "✓"),
		})
	}
	return servers
}

// cleanCommandString strips the trailing status indicator from a listed
// command, e.g. "npx foo - ✓ Connected" becomes "npx foo".
func cleanCommandString(command string) string {
	result := command
	for _, pattern := range []string{
		" - ✓ Connected",
		" - ✗ Failed to connect",
		" - ✓ connected",
		" - ✗ failed",
		" - ✓",
		" - ✗",
	} {
		if pos := strings.Index(result, pattern); pos >= 0 {
			result = strings.TrimSpace(result[:pos])
			break
		}
	}
	if pos := strings.Index(result, " - ✓"); pos >= 0 {
		result = strings.TrimSpace(result[:pos])
	} else if pos := strings.Index(result, " - ✗"); pos >= 0 {
		result = strings.TrimSpace(result[:pos])
	}
	return result
}
