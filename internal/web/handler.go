// handler.go — web 模式 REST API handlers。
package web

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sea922/codestudio/internal/bus"
	"github.com/sea922/codestudio/internal/runner"
	"github.com/sea922/codestudio/internal/skills"
	"github.com/sea922/codestudio/internal/tabs"
	apperrors "github.com/sea922/codestudio/pkg/errors"
)

// registerRoutes 注册 API 路由。
func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.GET("/health", s.health)

	api.GET("/tabs", s.listTabs)
	api.POST("/tabs", s.createTab)
	api.PATCH("/tabs/:id", s.updateTab)
	api.DELETE("/tabs/:id", s.closeTab)
	api.POST("/tabs/:id/activate", s.activateTab)

	api.GET("/sessions", s.listSessions)
	api.GET("/sessions/:sessionId/output", s.getSessionOutput)
	api.POST("/sessions/open", s.openSession)

	api.POST("/claude/run", s.startClaude)
	api.GET("/claude/run", s.listClaudeRuns)
	api.DELETE("/claude/run/:id", s.stopClaude)

	api.GET("/mcp/servers", s.listMCPServers)
	api.POST("/mcp/servers/:name/verify", s.verifyMCPServer)

	api.GET("/skills", s.listSkills)
	api.GET("/skills/:type/:name", s.getSkill)
	api.POST("/skills/validate", s.validateSkill)

	api.GET("/preferences", s.listPreferences)
	api.PUT("/preferences/:key", s.setPreference)

	api.GET("/events", s.sseHandler)

	s.router.GET("/ws/claude-stream", s.wsStreamHandler)
}

func queryLimit(c *gin.Context, def int) int {
	v, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if v < 1 {
		return def
	}
	if v > 2000 {
		return 2000
	}
	return v
}

func (s *Server) health(c *gin.Context) {
	success(c, gin.H{"status": "ok", "streamClients": s.hub.ClientCount()})
}

// ========================================
// Tabs
// ========================================

func (s *Server) listTabs(c *gin.Context) {
	success(c, gin.H{
		"tabs":        s.deps.Registry.Tabs(),
		"activeTabId": s.deps.Registry.ActiveTabID(),
	})
}

// tabFields 是 PATCH/POST 的部分更新载荷, nil 字段不动。
type tabFields struct {
	Type               *string          `json:"type"`
	Title              *string          `json:"title"`
	SessionID          *string          `json:"sessionId"`
	SessionData        *json.RawMessage `json:"sessionData"`
	SelectedProject    *json.RawMessage `json:"selectedProject"`
	AgentRunID         *string          `json:"agentRunId"`
	AgentData          *json.RawMessage `json:"agentData"`
	ClaudeFile         *string          `json:"claudeFile"`
	ProjectPath        *string          `json:"projectPath"`
	InitialProjectPath *string          `json:"initialProjectPath"`
}

func (f tabFields) toFields() tabs.Fields {
	out := tabs.Fields{
		Title:              f.Title,
		SessionID:          f.SessionID,
		SessionData:        f.SessionData,
		SelectedProject:    f.SelectedProject,
		AgentRunID:         f.AgentRunID,
		AgentData:          f.AgentData,
		ClaudeFile:         f.ClaudeFile,
		ProjectPath:        f.ProjectPath,
		InitialProjectPath: f.InitialProjectPath,
	}
	if f.Type != nil {
		typ := tabs.Type(*f.Type)
		out.Type = &typ
	}
	return out
}

func (s *Server) createTab(c *gin.Context) {
	var req struct {
		Type string `json:"type"`
		tabFields
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	req.tabFields.Type = nil
	id := s.deps.Registry.CreateTab(tabs.Type(req.Type), req.toFields())
	created(c, gin.H{"tabId": id})
}

func (s *Server) updateTab(c *gin.Context) {
	var req tabFields
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	s.deps.Registry.UpdateTab(c.Param("id"), req.toFields())
	success(c, gin.H{"tabId": c.Param("id")})
}

func (s *Server) closeTab(c *gin.Context) {
	s.deps.Registry.CloseTab(c.Param("id"))
	success(c, gin.H{"activeTabId": s.deps.Registry.ActiveTabID()})
}

func (s *Server) activateTab(c *gin.Context) {
	s.deps.Registry.SwitchTo(c.Param("id"))
	success(c, gin.H{"activeTabId": s.deps.Registry.ActiveTabID()})
}

// ========================================
// Sessions
// ========================================

func (s *Server) listSessions(c *gin.Context) {
	if s.deps.Outputs == nil {
		unavailable(c, "database not configured")
		return
	}
	def := s.deps.SessionLogLimit
	if def <= 0 {
		def = 100
	}
	items, err := s.deps.Outputs.List(c.Request.Context(), queryLimit(c, def))
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, items)
}

func (s *Server) getSessionOutput(c *gin.Context) {
	if s.deps.Outputs == nil {
		unavailable(c, "database not configured")
		return
	}
	rec, err := s.deps.Outputs.GetBySessionID(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		serverError(c, err)
		return
	}
	if rec == nil {
		notFound(c, "session output not found")
		return
	}
	success(c, rec)
}

// openSession 走总线路由, 和桌面前端的 open-session-in-tab 同一条路径。
func (s *Server) openSession(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId"`
		ProjectID string `json:"projectId"`
		Summary   string `json:"summary"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if req.SessionID == "" {
		badRequest(c, "invalid_request", "sessionId is required")
		return
	}
	s.deps.Bus.PublishEvent(bus.EventOpenSessionInTab, "web", bus.OpenSessionPayload{
		Session: bus.SessionRef{ID: req.SessionID, ProjectID: req.ProjectID, Summary: req.Summary},
	})
	success(c, gin.H{"sessionId": req.SessionID})
}

// ========================================
// Claude runs
// ========================================

func (s *Server) startClaude(c *gin.Context) {
	if s.deps.Runner == nil {
		unavailable(c, "runner not configured")
		return
	}
	var req struct {
		SessionID   string `json:"sessionId"`
		Prompt      string `json:"prompt"`
		ProjectPath string `json:"projectPath"`
		Resume      string `json:"resume"`
		Model       string `json:"model"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if req.SessionID == "" || req.Prompt == "" {
		badRequest(c, "invalid_request", "sessionId and prompt are required")
		return
	}
	err := s.deps.Runner.Start(c.Request.Context(), req.SessionID, req.Prompt, req.ProjectPath,
		runner.Options{Resume: req.Resume, Model: req.Model})
	if err != nil {
		badRequest(c, "start_failed", err.Error())
		return
	}
	created(c, gin.H{"sessionId": req.SessionID})
}

func (s *Server) listClaudeRuns(c *gin.Context) {
	if s.deps.Runner == nil {
		unavailable(c, "runner not configured")
		return
	}
	success(c, s.deps.Runner.List())
}

func (s *Server) stopClaude(c *gin.Context) {
	if s.deps.Runner == nil {
		unavailable(c, "runner not configured")
		return
	}
	if err := s.deps.Runner.Stop(c.Param("id")); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			notFound(c, "session not running")
			return
		}
		serverError(c, err)
		return
	}
	success(c, gin.H{"stopped": c.Param("id")})
}

// ========================================
// MCP
// ========================================

func (s *Server) listMCPServers(c *gin.Context) {
	servers, err := s.deps.MCP.ListServers(c.Request.Context())
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{
		"servers":       servers,
		"verifiedTools": s.deps.MCP.Load(c.Request.Context()),
	})
}

func (s *Server) verifyMCPServer(c *gin.Context) {
	var req struct {
		Tools []string `json:"tools"`
	}
	// body 可选, 解析失败按空处理
	_ = c.ShouldBindJSON(&req)

	srv, err := s.deps.MCP.VerifyServer(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			notFound(c, "mcp server not found")
			return
		}
		serverError(c, err)
		return
	}
	if srv.Connected {
		if err := s.deps.MCP.MarkVerified(c.Request.Context(), srv.Name, req.Tools); err != nil {
			serverError(c, err)
			return
		}
	}
	success(c, srv)
}

// ========================================
// Skills
// ========================================

func (s *Server) listSkills(c *gin.Context) {
	if s.deps.Skills == nil {
		unavailable(c, "skills not configured")
		return
	}
	if typ := c.Query("type"); typ != "" {
		list, err := s.deps.Skills.List(typ)
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidInput) {
				badRequest(c, "invalid_request", err.Error())
				return
			}
			serverError(c, err)
			return
		}
		success(c, list)
		return
	}
	success(c, s.deps.Skills.ListAll())
}

func (s *Server) getSkill(c *gin.Context) {
	if s.deps.Skills == nil {
		unavailable(c, "skills not configured")
		return
	}
	sk, err := s.deps.Skills.Read(c.Param("name"), c.Param("type"))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			notFound(c, "skill not found")
			return
		}
		if errors.Is(err, apperrors.ErrInvalidInput) {
			badRequest(c, "invalid_request", err.Error())
			return
		}
		serverError(c, err)
		return
	}
	success(c, sk)
}

func (s *Server) validateSkill(c *gin.Context) {
	var req skills.Skill
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	success(c, skills.Validate(req))
}

// ========================================
// Preferences
// ========================================

func (s *Server) listPreferences(c *gin.Context) {
	if s.deps.Prefs == nil {
		unavailable(c, "database not configured")
		return
	}
	all, err := s.deps.Prefs.GetAll(c.Request.Context())
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, all)
}

func (s *Server) setPreference(c *gin.Context) {
	if s.deps.Prefs == nil {
		unavailable(c, "database not configured")
		return
	}
	var value any
	if err := c.ShouldBindJSON(&value); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if err := s.deps.Prefs.Set(c.Request.Context(), c.Param("key"), value); err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"key": c.Param("key")})
}
