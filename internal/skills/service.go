// Package skills 管理 .claude/skills 下的技能定义。
//
// 每个技能是一个目录, 入口文件 SKILL.md 由 YAML frontmatter (名称、
// 描述、allowed-tools) 加 markdown 正文组成。个人技能放在
// ~/.claude/skills, 项目技能放在项目根的 .claude/skills。
package skills

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	apperrors "github.com/sea922/codestudio/pkg/errors"
	"github.com/sea922/codestudio/pkg/logger"
)

// 技能归属。
const (
	TypePersonal = "personal"
	TypeProject  = "project"
)

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
	minDescriptionLen = 10
)

// Metadata SKILL.md frontmatter 中声明的元数据。
type Metadata struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description"`
	AllowedTools []string `yaml:"allowed-tools" json:"allowedTools,omitempty"`
}

// File 技能目录里的一个附属文件。
type File struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	IsDirectory bool   `json:"isDirectory"`
}

// Skill 一个完整解析后的技能。
type Skill struct {
	Name         string    `json:"name"`
	Type         string    `json:"skillType"`
	Description  string    `json:"description"`
	Dir          string    `json:"filePath"`
	Frontmatter  string    `json:"yamlFrontmatter,omitempty"`
	Markdown     string    `json:"markdownContent"`
	Files        []File    `json:"files"`
	AllowedTools []string  `json:"allowedTools,omitempty"`
	LastModified time.Time `json:"lastModified"`
}

// ValidationResult 技能格式校验结论。
type ValidationResult struct {
	Valid    bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Service 按归属定位技能目录并读取技能。
type Service struct {
	personalDir string
	projectDir  string
}

// NewService 创建技能服务。projectRoot 为空时用当前工作目录,
// 个人目录定位失败只告警, List(TypePersonal) 会返回空。
func NewService(projectRoot string) *Service {
	if projectRoot == "" {
		if cwd, err := os.Getwd(); err == nil {
			projectRoot = cwd
		}
	}
	s := &Service{projectDir: filepath.Join(projectRoot, ".claude", "skills")}
	home, err := os.UserHomeDir()
	if err != nil {
		logger.Warn("skills: home dir unavailable", logger.FieldError, err)
		return s
	}
	s.personalDir = filepath.Join(home, ".claude", "skills")
	return s
}

func (s *Service) dir(typ string) (string, error) {
	switch typ {
	case TypePersonal:
		if s.personalDir == "" {
			return "", apperrors.New("skills.dir", "personal skills dir unavailable")
		}
		return s.personalDir, nil
	case TypeProject:
		return s.projectDir, nil
	default:
		return "", apperrors.Wrapf(apperrors.ErrInvalidInput, "skills.dir", "skill type %q", typ)
	}
}

// ListAll 汇总个人和项目技能。单边失败只告警, 不让另一边也落空。
func (s *Service) ListAll() []Skill {
	var all []Skill
	for _, typ := range []string{TypePersonal, TypeProject} {
		list, err := s.List(typ)
		if err != nil {
			logger.Warn("skills: list failed", "skill_type", typ, logger.FieldError, err)
			continue
		}
		all = append(all, list...)
	}
	return all
}

// List 列出一种归属下的全部技能。目录不存在时创建后返回空,
// 个别技能损坏时跳过并告警。
func (s *Service) List(typ string) ([]Skill, error) {
	dir, err := s.dir(typ)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrap(err, "skills.List", "create skills dir")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.Wrap(err, "skills.List", "read skills dir")
	}

	var skills []Skill
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		entry := filepath.Join(dir, e.Name(), "SKILL.md")
		if _, err := os.Stat(entry); err != nil {
			continue
		}
		skill, err := s.readFile(entry, typ)
		if err != nil {
			logger.Warn("skills: skip unreadable skill",
				"skill", e.Name(),
				logger.FieldError, err,
			)
			continue
		}
		skill.Files = listFiles(filepath.Join(dir, e.Name()))
		skills = append(skills, skill)
	}
	return skills, nil
}

// Read 读取指定技能, 不存在时返回 ErrNotFound。
func (s *Service) Read(name, typ string) (Skill, error) {
	dir, err := s.dir(typ)
	if err != nil {
		return Skill{}, err
	}
	entry := filepath.Join(dir, name, "SKILL.md")
	if _, err := os.Stat(entry); err != nil {
		return Skill{}, apperrors.Wrapf(apperrors.ErrNotFound, "skills.Read", "skill %s", name)
	}
	skill, err := s.readFile(entry, typ)
	if err != nil {
		return Skill{}, err
	}
	skill.Files = listFiles(filepath.Join(dir, name))
	return skill, nil
}

func (s *Service) readFile(path, typ string) (Skill, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, apperrors.Wrap(err, "skills.readFile", "read SKILL.md")
	}

	front, markdown, err := splitFrontmatter(string(raw))
	if err != nil {
		return Skill{}, err
	}

	meta := Metadata{Name: filepath.Base(filepath.Dir(path))}
	if front != "" {
		if err := yaml.Unmarshal([]byte(front), &meta); err != nil {
			logger.Warn("skills: malformed frontmatter", logger.FieldPath, path, logger.FieldError, err)
		}
	} else if heading := firstHeading(markdown); heading != "" {
		meta.Name = heading
	}

	var modified time.Time
	if info, err := os.Stat(path); err == nil {
		modified = info.ModTime()
	}

	return Skill{
		Name:         meta.Name,
		Type:         typ,
		Description:  meta.Description,
		Dir:          filepath.Dir(path),
		Frontmatter:  front,
		Markdown:     markdown,
		AllowedTools: meta.AllowedTools,
		LastModified: modified,
	}, nil
}

// Validate 校验技能格式, 返回错误与建议而不是中断。
func Validate(skill Skill) ValidationResult {
	var errs, warnings []string

	if skill.Name == "" {
		errs = append(errs, "skill name must not be empty")
	}
	if len(skill.Name) > maxNameLen {
		errs = append(errs, "skill name must not exceed 64 characters")
	}
	if skill.Name != "" && !validName(skill.Name) {
		errs = append(errs, "skill name may only contain lowercase letters, digits and hyphens")
	}

	if len(skill.Description) > maxDescriptionLen {
		errs = append(errs, "skill description must not exceed 1024 characters")
	}
	if len(skill.Description) < minDescriptionLen {
		warnings = append(warnings, "consider a more detailed description (at least 10 characters)")
	}

	if skill.Frontmatter != "" {
		var doc any
		if err := yaml.Unmarshal([]byte(skill.Frontmatter), &doc); err != nil {
			errs = append(errs, "invalid YAML frontmatter: "+err.Error())
		}
	}

	if skill.Dir != "" {
		if _, err := os.Stat(skill.Dir); err != nil {
			errs = append(errs, "skill directory does not exist")
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs, Warnings: warnings}
}

func validName(name string) bool {
	for _, c := range name {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
			return false
		}
	}
	return true
}

// splitFrontmatter 把 SKILL.md 切成 frontmatter 和 markdown 正文。
// 没有 frontmatter 时整体按正文返回, 有开始符没有结束符算错误。
func splitFrontmatter(content string) (front, markdown string, err error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return "", trimmed, nil
	}
	rest := trimmed[3:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", "", apperrors.New("skills.splitFrontmatter", "unterminated YAML frontmatter")
	}
	front = strings.TrimSpace(rest[:end])
	markdown = strings.TrimSpace(rest[end+4:])
	return front, markdown, nil
}

// firstHeading 从正文提取首个 markdown 标题作为兜底名称。
func firstHeading(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	return ""
}

// listFiles 列出技能目录的附属文件 (不含内容)。失败时返回空。
func listFiles(dir string) []File {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	files := make([]File, 0, len(entries))
	for _, e := range entries {
		files = append(files, File{
			Name:        e.Name(),
			Path:        filepath.Join(dir, e.Name()),
			IsDirectory: e.IsDir(),
		})
	}
	return files
}
