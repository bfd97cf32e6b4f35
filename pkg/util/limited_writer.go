// limited_writer.go — 带总量上限的 io.Writer 包装。
package util

import "io"

// LimitedWriter 包装一个 io.Writer, 累计透传满 limit 字节后丢弃余下输入。
//
// 已写满后丢弃对调用方透明: Write 报告消费了整个 p 而不是返回
// ErrShortWrite, 否则 exec.Cmd 会把截断当成 stderr 管道断裂。
type LimitedWriter struct {
	dst       io.Writer
	limit     int
	written   int
	truncated bool
}

// NewLimitedWriter 包装 w, 最多向其透传 limit 字节。
func NewLimitedWriter(w io.Writer, limit int) *LimitedWriter {
	return &LimitedWriter{dst: w, limit: limit}
}

// Write 把 p 透传给底层 writer, 超出上限的部分丢弃。
func (lw *LimitedWriter) Write(p []byte) (int, error) {
	remain := lw.limit - lw.written
	if remain <= 0 {
		if len(p) > 0 {
			lw.truncated = true
		}
		return len(p), nil
	}
	if len(p) > remain {
		lw.truncated = true
		p = p[:remain]
	}
	n, err := lw.dst.Write(p)
	lw.written += n
	return n, err
}

// Overflow 报告是否已有字节因超限被丢弃。恰好写满且无丢弃时为 false。
func (lw *LimitedWriter) Overflow() bool { return lw.truncated }

// Written 返回透传到底层 writer 的字节数。
func (lw *LimitedWriter) Written() int { return lw.written }
