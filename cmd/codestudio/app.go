// app.go — Wails 绑定: tab 管理 + claude 会话控制。
//
// 前端通过 window.go.main.App.XXX() 调用。
// 流式输出与 tab 路由事件通过 Wails Events 推送 (startBridges)。
package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/wailsapp/wails/v3/pkg/application"

	"github.com/sea922/codestudio/internal/bus"
	"github.com/sea922/codestudio/internal/config"
	"github.com/sea922/codestudio/internal/mcp"
	"github.com/sea922/codestudio/internal/runner"
	"github.com/sea922/codestudio/internal/skills"
	"github.com/sea922/codestudio/internal/stream"
	"github.com/sea922/codestudio/internal/tabs"
	"github.com/sea922/codestudio/internal/transport"
	"github.com/sea922/codestudio/pkg/logger"
	"github.com/sea922/codestudio/pkg/util"
)

// App Wails 绑定 — 前端通过 window.go.main.App.XXX() 调用。
type App struct {
	cfg      *config.Config
	mgr      *runner.Manager
	registry *tabs.Registry
	msgBus   *bus.MessageBus
	mcp      *mcp.Service
	skills   *skills.Service
	tr       transport.Transport
	wailsApp *application.App
}

// NewApp 创建 App 实例。
func NewApp(cfg *config.Config, mgr *runner.Manager, registry *tabs.Registry,
	msgBus *bus.MessageBus, mcpSvc *mcp.Service, skillSvc *skills.Service,
	tr transport.Transport) *App {
	return &App{
		cfg:      cfg,
		mgr:      mgr,
		registry: registry,
		msgBus:   msgBus,
		mcp:      mcpSvc,
		skills:   skillSvc,
		tr:       tr,
	}
}

// startBridges 接通两条到前端的推送链路:
//   - 总线 onPublish → Wails 事件 (topic 即事件名)
//   - transport → "claude-stream" 事件 (原始 JSONL 行)
//
// socket 模式下本地没有 runner 喂 processor, 由 transport handler
// 把行灌进活动 chat tab 的 processor。
func (a *App) startBridges(ctx context.Context) {
	a.msgBus.SetOnPublish(func(msg bus.Message) {
		if a.wailsApp == nil {
			return
		}
		a.wailsApp.Event.Emit(msg.Topic, map[string]any{
			"from":    msg.From,
			"payload": json.RawMessage(msg.Payload),
			"seq":     msg.Seq,
		})
	})

	socketMode := a.tr.Name() == "socket"
	handler := func(raw string) {
		if a.wailsApp != nil {
			a.wailsApp.Event.Emit(transport.ChannelName, raw)
		}
		if socketMode {
			if proc := a.registry.Processor(a.registry.ActiveTabID()); proc != nil {
				proc.Ingest(raw)
			}
		}
	}
	if err := a.tr.Start(ctx, handler); err != nil {
		logger.Error("transport start failed",
			logger.FieldTransport, a.tr.Name(), logger.FieldError, err)
	}

	// processor 派生信号 → 前端
	a.registry.SetProcessorCallbacks(func(tabID string) stream.Callbacks {
		return stream.Callbacks{
			OnStreamingChange: func(streaming bool, sessionID string) {
				a.emit("session-streaming", map[string]any{
					"tabId": tabID, "sessionId": sessionID, "streaming": streaming,
				})
			},
			OnTokenUpdate: func(total int) {
				a.emit("session-tokens", map[string]any{"tabId": tabID, "total": total})
			},
			OnSessionInfo: func(sessionID, projectID string) {
				a.emit("session-info", map[string]any{
					"tabId": tabID, "sessionId": sessionID, "projectId": projectID,
				})
			},
		}
	})
}

func (a *App) emit(event string, payload any) {
	if a.wailsApp != nil {
		a.wailsApp.Event.Emit(event, payload)
	}
}

func (a *App) shutdown() {
	done := make(chan struct{})
	util.SafeGo(func() {
		a.mgr.StopAll()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	a.registry.Close()
	_ = a.tr.Close()
}

// ========================================
// Tabs
// ========================================

// Tabs 返回全部 tab + 活动 tab id 的 JSON。
func (a *App) Tabs() (string, error) {
	data, err := json.Marshal(map[string]any{
		"tabs":        a.registry.Tabs(),
		"activeTabId": a.registry.ActiveTabID(),
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CreateTab 新建 tab, 返回 tab id。fieldsJSON 可为空。
func (a *App) CreateTab(typ, fieldsJSON string) string {
	return a.registry.CreateTab(tabs.Type(typ), parseFields(fieldsJSON))
}

// UpdateTab 部分更新。过期 id 是 no-op。
func (a *App) UpdateTab(tabID, fieldsJSON string) {
	a.registry.UpdateTab(tabID, parseFields(fieldsJSON))
}

// CloseTab 关闭 tab。
func (a *App) CloseTab(tabID string) {
	a.registry.CloseTab(tabID)
}

// SwitchToTab 切换活动 tab。
func (a *App) SwitchToTab(tabID string) {
	a.registry.SwitchTo(tabID)
}

// NavigateBack chat tab 回退到 projects 视图。
func (a *App) NavigateBack(tabID string) {
	a.registry.NavigateBack(tabID)
}

// OpenSession 走总线打开历史会话 (去重 + 激活)。
func (a *App) OpenSession(sessionID, projectID, summary string) {
	a.msgBus.PublishEvent(bus.EventOpenSessionInTab, "frontend", bus.OpenSessionPayload{
		Session: bus.SessionRef{ID: sessionID, ProjectID: projectID, Summary: summary},
	})
}

// SelectSession projects tab 中选中会话 (原地转换为 chat)。
func (a *App) SelectSession(sessionID, projectID, summary string) {
	a.msgBus.PublishEvent(bus.EventClaudeSessionSelected, "frontend", bus.OpenSessionPayload{
		Session: bus.SessionRef{ID: sessionID, ProjectID: projectID, Summary: summary},
	})
}

// parseFields 把前端传来的部分字段 JSON 转为 tabs.Fields。
// 解析失败按空处理 (no-op 更新)。
func parseFields(fieldsJSON string) tabs.Fields {
	if fieldsJSON == "" {
		return tabs.Fields{}
	}
	var req struct {
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
	if err := json.Unmarshal([]byte(fieldsJSON), &req); err != nil {
		logger.Warn("parseFields: malformed payload", logger.FieldError, err)
		return tabs.Fields{}
	}
	f := tabs.Fields{
		Title:              req.Title,
		SessionID:          req.SessionID,
		SessionData:        req.SessionData,
		SelectedProject:    req.SelectedProject,
		AgentRunID:         req.AgentRunID,
		AgentData:          req.AgentData,
		ClaudeFile:         req.ClaudeFile,
		ProjectPath:        req.ProjectPath,
		InitialProjectPath: req.InitialProjectPath,
	}
	if req.Type != nil {
		typ := tabs.Type(*req.Type)
		f.Type = &typ
	}
	return f
}

// ========================================
// Claude 会话
// ========================================

// StartSession 启动一个 claude 会话进程。
func (a *App) StartSession(sessionID, prompt, projectPath, resume, model string) error {
	if model == "" {
		model = a.cfg.ClaudeModel
	}
	return a.mgr.Start(context.Background(), sessionID, prompt, projectPath,
		runner.Options{Resume: resume, Model: model})
}

// StopSession 终止会话进程组。
func (a *App) StopSession(sessionID string) error {
	return a.mgr.Stop(sessionID)
}

// SessionState 返回会话状态 (idle/thinking/running/stopped/error)。
func (a *App) SessionState(sessionID string) string {
	return string(a.mgr.State(sessionID))
}

// RecentOutput 返回会话最近的原始输出 (进程尚在时的兜底展示)。
func (a *App) RecentOutput(sessionID string) string {
	return a.mgr.RecentOutput(sessionID)
}

// ========================================
// 流处理器视图
// ========================================

// TabLog 导出 tab 绑定 processor 的完整原始日志。
func (a *App) TabLog(tabID string) string {
	if proc := a.registry.Processor(tabID); proc != nil {
		return proc.Export()
	}
	return ""
}

// TabTokens 返回 tab 的累计 token 数。
func (a *App) TabTokens(tabID string) int {
	if proc := a.registry.Processor(tabID); proc != nil {
		return proc.TotalTokens()
	}
	return 0
}

// TabStreaming 返回 tab 当前是否在流式输出。
func (a *App) TabStreaming(tabID string) bool {
	if proc := a.registry.Processor(tabID); proc != nil {
		return proc.Streaming()
	}
	return false
}

// LoadSessionFromStorage 把持久化的会话输出整块回放进 tab 的 processor。
func (a *App) LoadSessionFromStorage(tabID string, rowID int64) error {
	proc := a.registry.Processor(tabID)
	if proc == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return proc.LoadFromStorage(ctx, rowID)
}

// ========================================
// MCP
// ========================================

// cliTimeout claude CLI 一次性调用 (mcp list 等) 的超时。
func (a *App) cliTimeout() time.Duration {
	return time.Duration(a.cfg.ClaudeTimeoutSec) * time.Second
}

// MCPServers 列出 claude mcp list 的服务器及已验证工具映射。
func (a *App) MCPServers() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cliTimeout())
	defer cancel()
	servers, err := a.mcp.ListServers(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(map[string]any{
		"servers":       servers,
		"verifiedTools": a.mcp.Load(ctx),
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// VerifyMCPServer 校验一个服务器连接, 连通则记录 toolsJSON 里的工具名。
func (a *App) VerifyMCPServer(name, toolsJSON string) (bool, error) {
	var tools []string
	if toolsJSON != "" {
		if err := json.Unmarshal([]byte(toolsJSON), &tools); err != nil {
			logger.Warn("VerifyMCPServer: malformed tools payload", logger.FieldError, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cliTimeout())
	defer cancel()
	srv, err := a.mcp.VerifyServer(ctx, name)
	if err != nil {
		return false, err
	}
	if srv.Connected {
		if err := a.mcp.MarkVerified(ctx, srv.Name, tools); err != nil {
			return true, err
		}
	}
	return srv.Connected, nil
}

// ========================================
// Skills
// ========================================

// ListSkills 列出个人和项目技能的 JSON 数组。
func (a *App) ListSkills() (string, error) {
	data, err := json.Marshal(a.skills.ListAll())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadSkill 读取单个技能 (typ 为 personal/project)。
func (a *App) ReadSkill(name, typ string) (string, error) {
	sk, err := a.skills.Read(name, typ)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(sk)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ValidateSkill 校验前端编辑中的技能定义, 返回校验结论 JSON。
func (a *App) ValidateSkill(skillJSON string) (string, error) {
	var sk skills.Skill
	if err := json.Unmarshal([]byte(skillJSON), &sk); err != nil {
		return "", err
	}
	data, err := json.Marshal(skills.Validate(sk))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ========================================
// 原生对话框
// ========================================

// SelectProjectDir 弹出原生目录选择对话框，返回所选路径。
// 用户取消返回空字符串。
func (a *App) SelectProjectDir() string {
	if a.wailsApp == nil {
		logger.Warn("SelectProjectDir: wails app not ready")
		return ""
	}

	cwd, _ := os.Getwd()
	dialog := a.wailsApp.Dialog.OpenFile().
		SetTitle("Select project directory").
		SetButtonText("Select").
		SetDirectory(cwd).
		CanChooseDirectories(true).
		CanChooseFiles(false).
		CanCreateDirectories(true).
		ShowHiddenFiles(true)
	if current := a.wailsApp.Window.Current(); current != nil {
		dialog.AttachToWindow(current)
	}

	path, err := dialog.PromptForSingleSelection()
	if err != nil {
		logger.Warn("SelectProjectDir: dialog failed", logger.FieldError, err)
		return ""
	}
	if path == "" {
		return ""
	}
	logger.Info("SelectProjectDir: selected", logger.FieldPath, path)
	return path
}
