// Package logger 基于 slog 的结构化日志。
//
// 默认日志器存放在 atomic.Pointer 中, Init 可随时整体替换而不与
// 正在写日志的 goroutine 竞争。桌面端经 InitWithFile 同时落盘,
// web/cli 端经 Init 仅输出到 stdout。
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pkgerr "github.com/sea922/codestudio/pkg/errors"
)

var (
	defaultLogger atomic.Pointer[slog.Logger]

	logFile   *os.File   // 全局日志文件, Shutdown 时关闭
	logFileMu sync.Mutex // 保护 logFile 并发关闭

	// exitFunc 可在测试中替换以拦截 os.Exit。
	exitFunc = os.Exit
)

func init() { defaultLogger.Store(buildLogger(os.Stdout, slog.LevelInfo)) }

func getLogger() *slog.Logger { return defaultLogger.Load() }

func storeLogger(l *slog.Logger) {
	defaultLogger.Store(l)
	slog.SetDefault(l)
}

// parseLevel 解析 LOG_LEVEL 值, 无法识别时退回 INFO。
func parseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// replaceTimeAttr 输出本地时区的易读时间。
func replaceTimeAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.Local().Format("2006-01-02 15:04:05"))
		}
	}
	return a
}

func buildLogger(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level == slog.LevelDebug,
		ReplaceAttr: replaceTimeAttr,
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Init 配置 stdout JSON 日志, level 取 DEBUG/INFO/WARN/ERROR。
func Init(level string) {
	storeLogger(buildLogger(os.Stdout, parseLevel(level)))
}

// InitWithFile 同时输出到 stdout 和 {logDir}/codestudio-{date}.log。
// 退出前应调用 ShutdownFileHandler 关闭文件。
func InitWithFile(logDir, level string) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return pkgerr.Wrap(err, "Logger.Init", "create log dir")
	}

	logPath := filepath.Join(logDir, fmt.Sprintf("codestudio-%s.log", time.Now().Format("2006-01-02")))
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return pkgerr.Wrap(err, "Logger.Init", "open log file")
	}

	logFileMu.Lock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	logFileMu.Unlock()

	storeLogger(buildLogger(io.MultiWriter(os.Stdout, f), parseLevel(level)))
	slog.Info("log file opened", "path", logPath)
	return nil
}

// ShutdownFileHandler 同步并关闭日志文件。之后写日志不会 panic,
// stdout 部分照常输出, 文件部分的写入错误被 slog 忽略。
func ShutdownFileHandler() {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		_ = logFile.Sync()
		_ = logFile.Close()
		logFile = nil
	}
}

type ctxKey struct{}

// WithContext 把日志器挂到 context 上。
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext 取出 context 上的日志器, 没有则用默认日志器。
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return getLogger()
}

// 包级便捷方法。args 为 key-value 对。
func Info(msg string, args ...any)  { getLogger().Info(msg, args...) }
func Error(msg string, args ...any) { getLogger().Error(msg, args...) }
func Warn(msg string, args ...any)  { getLogger().Warn(msg, args...) }
func Debug(msg string, args ...any) { getLogger().Debug(msg, args...) }

func Infof(format string, args ...any)  { getLogger().Info(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { getLogger().Error(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { getLogger().Warn(fmt.Sprintf(format, args...)) }
func Debugf(format string, args ...any) { getLogger().Debug(fmt.Sprintf(format, args...)) }

// Fatal 记录错误, flush 日志文件后退出进程。
func Fatal(msg string, args ...any) {
	getLogger().Error(msg, args...)
	logFileMu.Lock()
	if logFile != nil {
		_ = logFile.Sync()
	}
	logFileMu.Unlock()
	exitFunc(1)
}

// With 返回带附加上下文的日志器。
func With(args ...any) *slog.Logger { return getLogger().With(args...) }

// Get 返回当前默认日志器。
func Get() *slog.Logger { return getLogger() }

// 字段名常量。统一键名, 勿在调用点硬编码字符串。
const (
	FieldError     = "error"
	FieldComponent = "component"
	FieldSource    = "source"
	FieldSessionID = "session_id"
	FieldProjectID = "project_id"
	FieldTabID     = "tab_id"
	FieldTabType   = "tab_type"
	FieldKind      = "kind"
	FieldTopic     = "topic"
	FieldSeq       = "seq"
	FieldCount     = "count"
	FieldPath      = "path"
	FieldMethod    = "method"
	FieldAddr      = "addr"
	FieldPort      = "port"
	FieldURL       = "url"
	FieldKey       = "key"
	FieldPID       = "pid"
	FieldRunID     = "run_id"
	FieldRaw       = "raw"
	FieldLen       = "len"

	FieldDurationMS = "duration_ms"
	FieldTransport  = "transport"
	FieldSubscriber = "subscriber"
	FieldFilter     = "filter"
	FieldExitCode   = "exit_code"
	FieldServer     = "server"
	FieldTool       = "tool_name"
)
