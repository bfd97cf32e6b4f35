// Package web 提供 web 部署模式的 HTTP 服务 (gin):
// REST API + SSE 事件桥 + /ws/claude-stream websocket 广播。
package web

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sea922/codestudio/internal/bus"
	"github.com/sea922/codestudio/internal/mcp"
	"github.com/sea922/codestudio/internal/runner"
	"github.com/sea922/codestudio/internal/skills"
	"github.com/sea922/codestudio/internal/store"
	"github.com/sea922/codestudio/internal/tabs"
	"github.com/sea922/codestudio/pkg/util"
)

// Server web 模式 HTTP 服务。
type Server struct {
	router *gin.Engine
	deps   *Deps
	sse    *EventBus
	hub    *StreamHub

	subIDs []string
	stop   chan struct{}
}

// Deps 聚合依赖 (一次注入)。Outputs / Prefs 在未配置数据库时为 nil。
type Deps struct {
	Registry *tabs.Registry
	Runner   *runner.Manager
	MCP      *mcp.Service
	Skills   *skills.Service
	Bus      *bus.MessageBus
	Outputs  *store.SessionOutputStore
	Prefs    *store.PreferenceStore

	// SyncIntervalSec SSE 全量 tab 快照的推送间隔, <=0 关闭。
	SyncIntervalSec int
	// SessionLogLimit /api/sessions 的默认分页大小, <=0 用 100。
	SessionLogLimit int
}

// NewServer 创建 web 服务并注册路由。
func NewServer(deps *Deps) *Server {
	r := gin.Default()
	s := &Server{
		router: r,
		deps:   deps,
		sse:    NewEventBus(),
		hub:    NewStreamHub(),
		stop:   make(chan struct{}),
	}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Hub 返回 websocket 流广播器。
func (s *Server) Hub() *StreamHub { return s.hub }

// AttachBus 订阅消息总线: 全量事件进 SSE, claude-stream 原始行进 websocket。
func (s *Server) AttachBus(b *bus.MessageBus) {
	events := b.Subscribe("web:events", bus.TopicAll)
	s.subIDs = append(s.subIDs, events.ID)
	util.SafeGo(func() {
		for msg := range events.Ch {
			s.sse.Publish(Event{Type: msg.Topic, Data: msg.Payload})
		}
	})

	lines := b.Subscribe("web:stream", bus.TopicStream)
	s.subIDs = append(s.subIDs, lines.ID)
	util.SafeGo(func() {
		for msg := range lines.Ch {
			var p bus.StreamLinePayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Raw == "" {
				continue
			}
			s.hub.Broadcast(p.Raw)
		}
	})

	// 浏览器侧无 Wails 绑定, 周期性推送 tab 快照兜底 (错过事件也能收敛)
	if s.deps.SyncIntervalSec > 0 {
		interval := time.Duration(s.deps.SyncIntervalSec) * time.Second
		util.SafeGo(func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.sse.Publish(Event{Type: "sync", Data: map[string]any{
						"tabs":        s.deps.Registry.Tabs(),
						"activeTabId": s.deps.Registry.ActiveTabID(),
					}})
				case <-s.stop:
					return
				}
			}
		})
	}
}

// Close 释放总线订阅并断开所有 websocket 客户端。
func (s *Server) Close() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	if s.deps.Bus != nil {
		for _, id := range s.subIDs {
			s.deps.Bus.Unsubscribe(id)
		}
	}
	s.subIDs = nil
	s.hub.Close()
}

// Addr 拼接监听地址。
func Addr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
