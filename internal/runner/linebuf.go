// linebuf.go — 会话最近 stream-json 记录的环形保留。
package runner

import (
	"strings"
	"sync"
)

// LineBuffer 保留最近 max 条完整的 stream-json 行。写满后每次追加
// 覆盖最旧的一行, 记录永远按整行丢弃, 不会出现被拦腰截断的 JSON。
type LineBuffer struct {
	mu    sync.Mutex
	lines []string // 固定容量, 环形复用
	head  int      // 最旧一行的下标
	count int
}

// NewLineBuffer 创建容量为 max 行的缓冲。
func NewLineBuffer(max int) *LineBuffer {
	if max < 1 {
		max = 1
	}
	return &LineBuffer{lines: make([]string, max)}
}

// Append 记录一行。缓冲已满时覆盖最旧的一行。
func (b *LineBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count < len(b.lines) {
		b.lines[(b.head+b.count)%len(b.lines)] = line
		b.count++
		return
	}
	b.lines[b.head] = line
	b.head = (b.head + 1) % len(b.lines)
}

// Lines 按到达顺序返回当前保留的行 (副本)。
func (b *LineBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.lines[(b.head+i)%len(b.lines)]
	}
	return out
}

// String 返回换行拼接的缓冲内容, 与持久化的会话输出 blob 同构。
func (b *LineBuffer) String() string {
	return strings.Join(b.Lines(), "\n")
}

// Reset 清空缓冲并释放行引用。
func (b *LineBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.lines {
		b.lines[i] = ""
	}
	b.head, b.count = 0, 0
}
