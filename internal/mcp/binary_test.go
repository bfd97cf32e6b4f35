package mcp

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindClaudeBinary_ConfiguredPath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "claude")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := FindClaudeBinary(bin)
	if err != nil {
		t.Fatalf("FindClaudeBinary: %v", err)
	}
	if got != bin {
		t.Errorf("got %q, want %q", got, bin)
	}
}

func TestFindClaudeBinary_ConfiguredPathMissing(t *testing.T) {
	if _, err := FindClaudeBinary(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing configured path")
	}
}
