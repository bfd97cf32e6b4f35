package tabs

import "encoding/json"

// Type enumerates the tab variants.
type Type string

const (
	TypeProjects       Type = "projects"
	TypeChat           Type = "chat"
	TypeAgent          Type = "agent"
	TypeAgents         Type = "agents"
	TypeUsage          Type = "usage"
	TypeMCP            Type = "mcp"
	TypeSettings       Type = "settings"
	TypeClaudeMD       Type = "claude-md"
	TypeClaudeFile     Type = "claude-file"
	TypeAgentExecution Type = "agent-execution"
	TypeCreateAgent    Type = "create-agent"
	TypeImportAgent    Type = "import-agent"
)

// Valid reports whether t is a known tab variant.
func (t Type) Valid() bool {
	switch t {
	case TypeProjects, TypeChat, TypeAgent, TypeAgents, TypeUsage, TypeMCP,
		TypeSettings, TypeClaudeMD, TypeClaudeFile, TypeAgentExecution,
		TypeCreateAgent, TypeImportAgent:
		return true
	}
	return false
}

// Tab is one open view. ID is unique and immutable; Title is user-facing.
// Variant-specific fields are populated only for the relevant variant.
// A chat tab's SessionID, once set, is a stable handle used for session
// deduplication: no two tabs carry the same non-empty SessionID.
type Tab struct {
	ID    string `json:"id"`
	Type  Type   `json:"type"`
	Title string `json:"title"`

	SessionID          string          `json:"sessionId,omitempty"`
	SessionData        json.RawMessage `json:"sessionData,omitempty"`
	SelectedProject    json.RawMessage `json:"selectedProject,omitempty"`
	AgentRunID         string          `json:"agentRunId,omitempty"`
	AgentData          json.RawMessage `json:"agentData,omitempty"`
	ClaudeFile         string          `json:"claudeFile,omitempty"`
	ProjectPath        string          `json:"projectPath,omitempty"`
	InitialProjectPath string          `json:"initialProjectPath,omitempty"`

	// Inert marks a placeholder created from an unknown variant or a
	// malformed routing payload. It renders but never binds a session.
	Inert bool `json:"inert,omitempty"`

	// originTitle is the projects-view title stashed when SelectSession
	// converts the tab in place, restored by NavigateBack.
	originTitle string
}

// Fields is a partial update applied by UpdateTab. Nil pointers leave the
// corresponding tab field untouched.
type Fields struct {
	Type               *Type
	Title              *string
	SessionID          *string
	SessionData        *json.RawMessage
	SelectedProject    *json.RawMessage
	AgentRunID         *string
	AgentData          *json.RawMessage
	ClaudeFile         *string
	ProjectPath        *string
	InitialProjectPath *string
}

func (t *Tab) apply(f Fields) {
	if f.Type != nil {
		t.Type = *f.Type
	}
	if f.Title != nil {
		t.Title = *f.Title
	}
	if f.SessionID != nil {
		t.SessionID = *f.SessionID
	}
	if f.SessionData != nil {
		t.SessionData = *f.SessionData
	}
	if f.SelectedProject != nil {
		t.SelectedProject = *f.SelectedProject
	}
	if f.AgentRunID != nil {
		t.AgentRunID = *f.AgentRunID
	}
	if f.AgentData != nil {
		t.AgentData = *f.AgentData
	}
	if f.ClaudeFile != nil {
		t.ClaudeFile = *f.ClaudeFile
	}
	if f.ProjectPath != nil {
		t.ProjectPath = *f.ProjectPath
	}
	if f.InitialProjectPath != nil {
		t.InitialProjectPath = *f.InitialProjectPath
	}
}

// StringPtr is a convenience for building Fields literals.
func StringPtr(s string) *string { return &s }

// TypePtr is a convenience for building Fields literals.
func TypePtr(t Type) *Type { return &t }

// RawPtr is a convenience for building Fields literals.
func RawPtr(raw json.RawMessage) *json.RawMessage { return &raw }
