// Package runner 管理 claude CLI 子进程生命周期。
//
// 每个会话 = 一个 `claude -p <prompt> --output-format stream-json --verbose`
// 进程, stdout 按行 (JSONL) 扫描并转发给上层, stderr 逐行进日志。
//
// 生命周期: Start → (stdout 流) → 进程退出 / Stop。
package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	apperrors "github.com/sea922/codestudio/pkg/errors"
	"github.com/sea922/codestudio/pkg/logger"
	"github.com/sea922/codestudio/pkg/util"
)

// 默认值; 可被 config 覆盖。
const (
	defaultBinary      = "claude"
	defaultStderrLimit = 256 * 1024
	recentOutputLines  = 2000
	maxLineBytes       = 1024 * 1024 // 单行 JSONL 上限
)

// State 会话进程状态。
type State string

const (
	// StateIdle 进程存活, 当前 turn 已结束。
	StateIdle State = "idle"
	// StateThinking 收到 start, 等待首个输出。
	StateThinking State = "thinking"
	// StateRunning 正在产出 partial/output。
	StateRunning State = "running"
	// StateStopped 进程已退出。
	StateStopped State = "stopped"
	// StateError 进程异常退出或流报错。
	StateError State = "error"
)

// Session 单个 claude 子进程。
type Session struct {
	ID          string
	ProjectPath string

	cmd    *exec.Cmd
	stderr *logger.StderrCollector
	recent *LineBuffer

	mu    sync.Mutex
	state State
}

// Info 会话信息快照 (线程安全复制)。
type Info struct {
	ID          string `json:"id"`
	ProjectPath string `json:"project_path"`
	PID         int    `json:"pid"`
	State       State  `json:"state"`
}

// LineHandler 每行 stdout JSONL 的回调。
type LineHandler func(sessionID, raw string)

// Options Start 的可选参数。
type Options struct {
	Resume string // 非空时续接既有 claude 会话
	Model  string // 非空时指定模型
}

// Manager 管理多个 claude 子进程。
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	binary      string
	stderrLimit int
	onLine      LineHandler
	onExit      func(sessionID string, err error)
}

// NewManager 创建管理器。binary 为空时使用 PATH 中的 "claude"。
func NewManager(binary string, stderrLimit int) *Manager {
	if binary == "" {
		binary = defaultBinary
	}
	if stderrLimit <= 0 {
		stderrLimit = defaultStderrLimit
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		binary:      binary,
		stderrLimit: stderrLimit,
	}
}

// SetOnLine 设置行回调 (线程安全)。
func (m *Manager) SetOnLine(fn LineHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLine = fn
}

// SetOnExit 设置退出回调 (线程安全)。
func (m *Manager) SetOnExit(fn func(sessionID string, err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExit = fn
}

// buildArgs 构造 claude CLI 参数。
func buildArgs(prompt string, opts Options) []string {
	args := []string{"-p", prompt, "--output-format", "stream-json", "--verbose"}
	if opts.Resume != "" {
		args = append(args, "--resume", opts.Resume)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	return args
}

// Start 启动一个 claude 会话进程。
//
// 注意: 使用 exec.Command 而非 exec.CommandContext —
// 子进程不应随调用方 ctx 取消而被终止, 生命周期由 Stop() 显式管理。
// ctx 仅用于取消启动阶段。
func (m *Manager) Start(ctx context.Context, id, prompt, projectPath string, opts Options) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(err, "Manager.Start", "start cancelled")
	}
	if id == "" || prompt == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Manager.Start", "id and prompt are required")
	}

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return apperrors.Newf("Manager.Start", "session %s already exists", id)
	}

	cmd := exec.Command(m.binary, buildArgs(prompt, opts)...)
	cmd.Dir = projectPath
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	collector := logger.NewStderrCollector(id)
	cmd.Stderr = util.NewLimitedWriter(collector, m.stderrLimit)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		m.mu.Unlock()
		_ = collector.Close()
		return apperrors.Wrap(err, "Manager.Start", "stdout pipe")
	}

	sess := &Session{
		ID:          id,
		ProjectPath: projectPath,
		cmd:         cmd,
		stderr:      collector,
		recent:      NewLineBuffer(recentOutputLines),
		state:       StateThinking,
	}
	m.sessions[id] = sess
	onLine := m.onLine
	onExit := m.onExit
	m.mu.Unlock()

	if err := cmd.Start(); err != nil {
		m.remove(id)
		_ = collector.Close()
		return apperrors.Wrapf(err, "Manager.Start", "spawn %s", m.binary)
	}
	logger.Info("runner: claude session started",
		logger.FieldSessionID, id,
		logger.FieldPID, cmd.Process.Pid,
		logger.FieldPath, projectPath,
	)

	util.SafeGo(func() {
		sess.consume(stdout, onLine)
		err := cmd.Wait()
		_ = collector.Close()

		sess.mu.Lock()
		if sess.state != StateStopped {
			if err != nil {
				sess.state = StateError
			} else {
				sess.state = StateStopped
			}
		}
		sess.mu.Unlock()

		if err != nil {
			logger.Warn("runner: claude session exited with error",
				logger.FieldSessionID, id,
				logger.FieldError, err,
			)
		} else {
			logger.Info("runner: claude session exited", logger.FieldSessionID, id)
		}
		if onExit != nil {
			onExit(id, err)
		}
	})
	return nil
}

// consume 逐行扫描 stdout: 记入环形缓冲、更新状态、转发回调。
func (s *Session) consume(r io.Reader, onLine LineHandler) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		s.recent.Append(line)

		if next, ok := stateForLine(line); ok {
			s.mu.Lock()
			s.state = next
			s.mu.Unlock()
		}
		if onLine != nil {
			onLine(s.ID, line)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("runner: stdout scan failed",
			logger.FieldSessionID, s.ID,
			logger.FieldError, err,
		)
	}
}

// stateForLine 从一条流记录推导会话状态。
func stateForLine(raw string) (State, bool) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return "", false
	}
	return stateForKind(probe.Kind)
}

func stateForKind(kind string) (State, bool) {
	switch kind {
	case "start":
		return StateThinking, true
	case "partial", "output":
		return StateRunning, true
	case "response":
		return StateIdle, true
	case "error":
		return StateError, true
	default:
		return "", false
	}
}

// Stop 停止指定会话: SIGTERM 整个进程组。
func (m *Manager) Stop(id string) error {
	sess, err := m.get(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	sess.state = StateStopped
	sess.mu.Unlock()

	if sess.cmd.Process != nil {
		// 负 pid = 进程组, 连同 claude 的子进程一起终止
		_ = syscall.Kill(-sess.cmd.Process.Pid, syscall.SIGTERM)
	}
	m.remove(id)
	return nil
}

// StopAll 停止所有会话。
func (m *Manager) StopAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.Stop(id)
	}
}

// List 返回所有会话信息快照。
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sess.mu.Lock()
		info := Info{
			ID:          sess.ID,
			ProjectPath: sess.ProjectPath,
			State:       sess.state,
		}
		sess.mu.Unlock()
		if sess.cmd.Process != nil {
			info.PID = sess.cmd.Process.Pid
		}
		infos = append(infos, info)
	}
	return infos
}

// State 返回会话状态; 未知会话返回 StateStopped。
func (m *Manager) State(id string) State {
	sess, err := m.get(id)
	if err != nil {
		return StateStopped
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state
}

// RecentOutput 返回会话最近的 stream-json 行 (换行拼接)。
func (m *Manager) RecentOutput(id string) string {
	sess, err := m.get(id)
	if err != nil {
		return ""
	}
	return sess.recent.String()
}

func (m *Manager) get(id string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "Manager.get", "session %s", id)
	}
	return sess, nil
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
