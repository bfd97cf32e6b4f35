// cmd/codestudio-web — web 部署入口。
//
// claude 进程跑在服务端; 浏览器 (或 socket 模式的桌面端) 通过
// /ws/claude-stream 收流, 通过 /api/events (SSE) 收总线事件。
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sea922/codestudio/internal/bus"
	"github.com/sea922/codestudio/internal/config"
	"github.com/sea922/codestudio/internal/database"
	"github.com/sea922/codestudio/internal/mcp"
	"github.com/sea922/codestudio/internal/runner"
	"github.com/sea922/codestudio/internal/skills"
	"github.com/sea922/codestudio/internal/store"
	"github.com/sea922/codestudio/internal/stream"
	"github.com/sea922/codestudio/internal/tabs"
	"github.com/sea922/codestudio/internal/web"
	"github.com/sea922/codestudio/pkg/logger"
	"github.com/sea922/codestudio/pkg/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	// ─── 数据库 (可选) ───
	var outputs *store.SessionOutputStore
	var prefs *store.PreferenceStore
	if cfg.PostgresConnStr != "" {
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("database init failed", logger.FieldError, err)
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, "./migrations"); err != nil {
			logger.Fatal("migration failed", logger.FieldError, err)
		}
		outputs = store.NewSessionOutputStore(pool)
		prefs = store.NewPreferenceStore(pool)
	} else {
		logger.Info("no POSTGRES_CONNECTION_STRING, session persistence disabled")
	}

	// ─── 装配 ───
	binary, err := mcp.FindClaudeBinary(cfg.ClaudeBinary)
	if err != nil {
		logger.Warn("claude binary not found, sessions cannot start", logger.FieldError, err)
		binary = cfg.ClaudeBinary
	}

	msgBus := bus.NewMessageBus()

	var outputStore stream.OutputStore
	if outputs != nil {
		outputStore = outputs
	}
	registry := tabs.NewRegistry(outputStore)
	registry.Attach(msgBus)
	defer registry.Close()

	var prefStore mcp.PrefStore
	if prefs != nil {
		prefStore = prefs
	}
	mcpSvc := mcp.NewService(prefStore, binary)

	mgr := runner.NewManager(binary, cfg.StderrLimitBytes)
	mgr.SetOnLine(func(sessionID, raw string) {
		if tab, ok := registry.FindTabBySessionID(sessionID); ok {
			if proc := registry.Processor(tab.ID); proc != nil {
				proc.Ingest(raw)
			}
		}
		msgBus.PublishEvent(bus.StreamTopic(sessionID), "runner",
			bus.StreamLinePayload{SessionID: sessionID, Raw: raw})
		if outputs != nil {
			util.SafeGo(func() {
				if err := outputs.AppendLine(context.Background(), sessionID, "", raw); err != nil {
					logger.Warn("session output append failed",
						logger.FieldSessionID, sessionID, logger.FieldError, err)
				}
			})
		}
	})
	defer mgr.StopAll()

	srv := web.NewServer(&web.Deps{
		Registry: registry,
		Runner:   mgr,
		MCP:      mcpSvc,
		Skills:   skills.NewService(""),
		Bus:      msgBus,
		Outputs:  outputs,
		Prefs:    prefs,

		SyncIntervalSec: cfg.WebSSESyncSec,
		SessionLogLimit: cfg.SessionLogLimit,
	})
	srv.AttachBus(msgBus)
	defer srv.Close()

	addr := web.Addr(cfg.WebHost, cfg.WebPort)
	logger.Info("web server starting", logger.FieldAddr, addr)

	util.SafeGo(func() {
		if err := srv.Engine().Run(addr); err != nil {
			logger.Fatal("server failed", logger.FieldError, err)
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")
}
