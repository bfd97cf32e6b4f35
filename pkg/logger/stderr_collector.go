// stderr_collector.go — 把 claude 子进程的 stderr 收进结构化日志。
package logger

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
)

// StderrCollector 逐行读取子进程 stderr 并写入 slog, 每行带上
// 会话 id。实现 io.Writer, 直接赋给 exec.Cmd.Stderr 即可。
type StderrCollector struct {
	pr        *io.PipeReader
	pw        *io.PipeWriter
	sessionID string
	done      chan struct{}
}

// NewStderrCollector 创建收集器并启动后台扫描 goroutine。
func NewStderrCollector(sessionID string) *StderrCollector {
	pr, pw := io.Pipe()
	c := &StderrCollector{
		pr:        pr,
		pw:        pw,
		sessionID: sessionID,
		done:      make(chan struct{}),
	}
	go c.scan()
	return c
}

// Write 实现 io.Writer。
func (c *StderrCollector) Write(p []byte) (int, error) {
	return c.pw.Write(p)
}

// Close 关闭写端并等扫描 goroutine 退出。进程结束后必须调用,
// 否则 goroutine 泄漏。
func (c *StderrCollector) Close() error {
	_ = c.pw.Close()
	<-c.done
	return nil
}

func (c *StderrCollector) scan() {
	defer close(c.done)
	defer func() { _ = c.pr.Close() }()

	// 默认 64KB 行缓冲对 claude stderr 足够, 超长行走 scanner.Err 路径
	scanner := bufio.NewScanner(c.pr)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		level := slog.LevelInfo
		if containsErrorKeyword(line) {
			level = slog.LevelError
		}
		c.log(level, line)
	}

	if err := scanner.Err(); err != nil {
		c.log(slog.LevelError, "stderr collector scan failed", FieldError, err.Error())
	}
}

func (c *StderrCollector) log(level slog.Level, msg string, extra ...any) {
	args := append([]any{
		FieldSource, "claude",
		FieldComponent, "stderr",
		FieldSessionID, c.sessionID,
		"logger", "claude.stderr",
	}, extra...)
	getLogger().Log(context.Background(), level, msg, args...)
}

// containsErrorKeyword 粗略判断 stderr 行是否像错误输出。
func containsErrorKeyword(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "error") ||
		strings.Contains(lower, "panic") ||
		strings.Contains(lower, "fatal")
}
