package skills

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/sea922/codestudio/pkg/errors"
)

func writeSkill(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestService(t *testing.T) (*Service, string, string) {
	t.Helper()
	personal := t.TempDir()
	project := t.TempDir()
	return &Service{personalDir: personal, projectDir: project}, personal, project
}

func TestList_ParsesFrontmatter(t *testing.T) {
	s, personal, _ := newTestService(t)
	writeSkill(t, personal, "code-review", `---
name: code-review
description: Reviews diffs for style and correctness issues.
allowed-tools:
  - Bash
  - Read
---

# Code Review

Review the diff.`)

	skills, err := s.List(TypePersonal)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(skills) != 1 {
		t.Fatalf("got %d skills, want 1", len(skills))
	}
	sk := skills[0]
	if sk.Name != "code-review" || sk.Type != TypePersonal {
		t.Errorf("unexpected skill identity: %+v", sk)
	}
	if sk.Description != "Reviews diffs for style and correctness issues." {
		t.Errorf("unexpected description: %q", sk.Description)
	}
	if len(sk.AllowedTools) != 2 || sk.AllowedTools[0] != "Bash" {
		t.Errorf("unexpected allowed tools: %v", sk.AllowedTools)
	}
	if !strings.Contains(sk.Markdown, "Review the diff.") {
		t.Errorf("markdown body lost: %q", sk.Markdown)
	}
	if len(sk.Files) == 0 {
		t.Error("expected SKILL.md in files listing")
	}
}

func TestList_FallbackNameFromHeading(t *testing.T) {
	s, personal, _ := newTestService(t)
	writeSkill(t, personal, "no-frontmatter", "# Release Notes\n\nDraft release notes.")

	skills, err := s.List(TypePersonal)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(skills) != 1 || skills[0].Name != "Release Notes" {
		t.Fatalf("got %+v, want name from heading", skills)
	}
}

func TestList_SkipsEntriesWithoutSkillFile(t *testing.T) {
	s, personal, _ := newTestService(t)
	writeSkill(t, personal, "real", "---\nname: real\ndescription: a real skill here\n---\nbody")
	if err := os.MkdirAll(filepath.Join(personal, "empty-dir"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(personal, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	skills, err := s.List(TypePersonal)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(skills) != 1 || skills[0].Name != "real" {
		t.Fatalf("got %+v, want only the real skill", skills)
	}
}

func TestList_CreatesMissingDir(t *testing.T) {
	s, _, project := newTestService(t)
	s.projectDir = filepath.Join(project, "nested", ".claude", "skills")

	skills, err := s.List(TypeProject)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(skills) != 0 {
		t.Fatalf("got %d skills in fresh dir", len(skills))
	}
	if _, err := os.Stat(s.projectDir); err != nil {
		t.Errorf("skills dir not created: %v", err)
	}
}

func TestRead_UnknownSkill(t *testing.T) {
	s, _, _ := newTestService(t)
	_, err := s.Read("missing", TypeProject)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRead_InvalidType(t *testing.T) {
	s, _, _ := newTestService(t)
	if _, err := s.Read("x", "global"); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name      string
		skill     Skill
		wantValid bool
		wantWarn  bool
	}{
		{
			name:      "valid",
			skill:     Skill{Name: "code-review", Description: "Reviews diffs for correctness.", Dir: dir},
			wantValid: true,
		},
		{
			name:      "uppercase name",
			skill:     Skill{Name: "Code-Review", Description: "Reviews diffs for correctness.", Dir: dir},
			wantValid: false,
		},
		{
			name:      "name too long",
			skill:     Skill{Name: strings.Repeat("a", 65), Description: "long enough text", Dir: dir},
			wantValid: false,
		},
		{
			name:      "empty name",
			skill:     Skill{Description: "long enough text", Dir: dir},
			wantValid: false,
		},
		{
			name:      "short description warns",
			skill:     Skill{Name: "ok", Description: "tiny", Dir: dir},
			wantValid: true,
			wantWarn:  true,
		},
		{
			name:      "oversized description",
			skill:     Skill{Name: "ok", Description: strings.Repeat("d", 1025), Dir: dir},
			wantValid: false,
		},
		{
			name:      "broken frontmatter",
			skill:     Skill{Name: "ok", Description: "long enough text", Frontmatter: "name: [unclosed", Dir: dir},
			wantValid: false,
		},
		{
			name:      "missing dir",
			skill:     Skill{Name: "ok", Description: "long enough text", Dir: filepath.Join(dir, "gone")},
			wantValid: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Validate(tc.skill)
			if res.Valid != tc.wantValid {
				t.Errorf("valid=%v, want %v (errors: %v)", res.Valid, tc.wantValid, res.Errors)
			}
			if tc.wantWarn && len(res.Warnings) == 0 {
				t.Error("expected a warning")
			}
		})
	}
}

func TestSplitFrontmatter(t *testing.T) {
	front, md, err := splitFrontmatter("---\nname: x\n---\nbody here")
	if err != nil {
		t.Fatal(err)
	}
	if front != "name: x" || md != "body here" {
		t.Errorf("got front=%q md=%q", front, md)
	}

	if _, _, err := splitFrontmatter("---\nname: x\nno closing fence"); err == nil {
		t.Error("expected error for unterminated frontmatter")
	}

	front, md, err = splitFrontmatter("just markdown")
	if err != nil || front != "" || md != "just markdown" {
		t.Errorf("got front=%q md=%q err=%v", front, md, err)
	}
}
