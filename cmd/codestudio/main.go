// cmd/codestudio — Wails v3 桌面端: claude 会话控制台。
//
// 统一架构:
//   - Tab/会话注册表 + 流处理器跑在 Go 侧, 前端通过 Wails 绑定调用
//   - claude-stream 原始行与总线事件通过 Wails Events 推送到前端
//
// 构建:
//
//	go build -tags "production" -o codestudio ./cmd/codestudio/
package main

import (
	"bufio"
	"context"
	"embed"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wailsapp/wails/v3/pkg/application"

	"github.com/sea922/codestudio/internal/bus"
	"github.com/sea922/codestudio/internal/config"
	"github.com/sea922/codestudio/internal/database"
	"github.com/sea922/codestudio/internal/mcp"
	"github.com/sea922/codestudio/internal/runner"
	"github.com/sea922/codestudio/internal/skills"
	"github.com/sea922/codestudio/internal/store"
	"github.com/sea922/codestudio/internal/stream"
	"github.com/sea922/codestudio/internal/tabs"
	"github.com/sea922/codestudio/internal/transport"
	"github.com/sea922/codestudio/pkg/logger"
	"github.com/sea922/codestudio/pkg/util"
)

//go:embed frontend/dist/*
var assets embed.FS

// loadEnvFile 从当前目录向上搜索 .env 文件并加载到环境变量。
// 不覆盖已有的环境变量 — 只填充未设置的。
func loadEnvFile() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for range 5 {
		envPath := filepath.Join(dir, ".env")
		f, err := os.Open(envPath)
		if err == nil {
			scanner := bufio.NewScanner(f)
			count := 0
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				parts := strings.SplitN(line, "=", 2)
				if len(parts) != 2 {
					continue
				}
				key := strings.TrimSpace(parts[0])
				val := strings.TrimSpace(parts[1])
				if _, exists := os.LookupEnv(key); !exists {
					if err := os.Setenv(key, val); err != nil {
						logger.Warn("loadEnvFile: setenv failed", logger.FieldKey, key, logger.FieldError, err)
						continue
					}
					count++
				}
			}
			_ = f.Close()
			logger.Info("loaded .env file", logger.FieldPath, envPath, logger.FieldCount, count)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}

func main() {
	loadEnvFile()
	cfg := config.Load()

	// 日志持久化: stdout + 文件
	if err := logger.InitWithFile(cfg.LogDir, cfg.LogLevel); err != nil {
		logger.Warn("file logging unavailable", logger.FieldError, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ─── 数据库 (可选) ───
	pool := setupDatabase(ctx, cfg)
	var outputs *store.SessionOutputStore
	var prefs *store.PreferenceStore
	if pool != nil {
		outputs = store.NewSessionOutputStore(pool)
		prefs = store.NewPreferenceStore(pool)
	}

	// ─── claude 二进制 ───
	binary, err := mcp.FindClaudeBinary(cfg.ClaudeBinary)
	if err != nil {
		logger.Warn("claude binary not found, sessions cannot start", logger.FieldError, err)
		binary = cfg.ClaudeBinary
	}

	// ─── 核心装配: 总线 + 注册表 + runner + transport ───
	msgBus := bus.NewMessageBus()

	var outputStore stream.OutputStore
	if outputs != nil {
		outputStore = outputs
	}
	registry := tabs.NewRegistry(outputStore)
	registry.Attach(msgBus)

	var prefStore mcp.PrefStore
	if prefs != nil {
		prefStore = prefs
	}
	mcpSvc := mcp.NewService(prefStore, binary)
	skillSvc := skills.NewService("")

	mgr := runner.NewManager(binary, cfg.StderrLimitBytes)
	native := transport.NewNative()
	tr := transport.Select(func() bool { return !cfg.ForceSocket }, native, transport.NewSocket(cfg.StreamSocketURL))
	logger.Info("transport selected", logger.FieldTransport, tr.Name())

	mgr.SetOnLine(func(sessionID, raw string) {
		// 行进三条路: 绑定 tab 的 processor、前端流通道、持久化
		if tab, ok := registry.FindTabBySessionID(sessionID); ok {
			if proc := registry.Processor(tab.ID); proc != nil {
				proc.Ingest(raw)
			}
		}
		native.Deliver(raw)
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
	mgr.SetOnExit(func(sessionID string, err error) {
		if err != nil {
			logger.Warn("claude session ended with error",
				logger.FieldSessionID, sessionID, logger.FieldError, err)
		}
	})

	// ─── Wails App ───
	appSvc := NewApp(cfg, mgr, registry, msgBus, mcpSvc, skillSvc, tr)

	app := application.New(application.Options{
		Name: "CodeStudio",
		Assets: application.AssetOptions{
			Handler: http.FileServer(frontendAssets()),
		},
		Services: []application.Service{
			application.NewService(appSvc),
		},
		Mac: application.MacOptions{
			ApplicationShouldTerminateAfterLastWindowClosed: true,
		},
		OnShutdown: func() {
			cancel()
			appSvc.shutdown()
			logger.ShutdownFileHandler()
			if pool != nil {
				pool.Close()
			}
		},
	})

	appSvc.wailsApp = app
	appSvc.startBridges(ctx)

	app.Window.NewWithOptions(application.WebviewWindowOptions{
		Title:           "CodeStudio",
		Width:           1440,
		Height:          900,
		MinWidth:        800,
		MinHeight:       600,
		InitialPosition: application.WindowCentered,
		BackgroundColour: application.RGBA{
			Red: 12, Green: 16, Blue: 23, Alpha: 255,
		},
		Mac: application.MacWindow{
			TitleBar: application.MacTitleBarDefault,
		},
	})

	if err := app.Run(); err != nil {
		logger.Error("wails app failed", logger.FieldError, err)
	}
}

// frontendAssets 返回前端静态资源 FS, 去掉 "frontend/dist" 前缀。
func frontendAssets() http.FileSystem {
	sub, err := fs.Sub(assets, "frontend/dist")
	if err != nil {
		logger.Error("embed: failed to sub frontend/dist", logger.FieldError, err)
		return http.FS(assets)
	}
	return http.FS(sub)
}

// setupDatabase 初始化 PostgreSQL 连接池 + 自动迁移。
// 未配置连接串时返回 nil, 会话输出只存内存。
func setupDatabase(ctx context.Context, cfg *config.Config) *pgxpool.Pool {
	if cfg.PostgresConnStr == "" {
		logger.Info("no POSTGRES_CONNECTION_STRING, session persistence disabled")
		return nil
	}
	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		logger.Warn("DB not available, session persistence disabled", logger.FieldError, err)
		return nil
	}
	if mErr := database.Migrate(ctx, pool, "./migrations"); mErr != nil {
		logger.Warn("DB migration failed (non-fatal)", logger.FieldError, mErr)
	}
	return pool
}
