// Package stream reconstructs conversational state from one claude session's
// raw line-delimited event stream.
//
// Each Processor instance owns exactly one session: it classifies records,
// accumulates incremental tool-call content by call index, and exposes an
// ordered message log plus derived signals (streaming flag, token usage,
// discovered session identity).
package stream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	apperrors "github.com/sea922/codestudio/pkg/errors"
	"github.com/sea922/codestudio/pkg/logger"
)

// OutputStore fetches a session's persisted output as one newline-delimited
// JSON-lines blob.
type OutputStore interface {
	GetSessionOutput(ctx context.Context, sessionID int64) (string, error)
}

// Callbacks are derived-signal notifications. Nil callbacks are skipped.
// They fire on live ingest only, never during replay from storage.
type Callbacks struct {
	OnStreamingChange func(streaming bool, sessionID string)
	OnTokenUpdate     func(totalTokens int)
	OnSessionInfo     func(sessionID, projectID string)
}

// Processor converts one session's raw event stream into queryable state.
type Processor struct {
	mu sync.Mutex

	log       []LogEntry
	buf       map[string]string // callIndex -> accumulated content, reset on start
	streaming bool
	sessionID string
	projectID string
	tokens    int
	detached  bool

	cb    Callbacks
	store OutputStore
}

// NewProcessor creates a processor bound to an optional output store.
func NewProcessor(store OutputStore, cb Callbacks) *Processor {
	return &Processor{
		buf:   map[string]string{},
		cb:    cb,
		store: store,
	}
}

// Ingest parses one raw line and dispatches it by kind.
//
// A line that fails to parse is logged and discarded without touching prior
// state. Every successfully parsed record is appended to the session log in
// arrival order with its raw line retained verbatim.
func (p *Processor) Ingest(raw string) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		logger.Warn("stream: discarding malformed record",
			logger.FieldError, err,
			logger.FieldLen, len(raw),
		)
		return
	}

	p.mu.Lock()
	if p.detached {
		p.mu.Unlock()
		return
	}
	notify := p.applyLocked(&msg)
	p.log = append(p.log, LogEntry{Message: msg, Raw: raw})
	p.mu.Unlock()

	// Callbacks run outside the lock; they may call back into the processor.
	for _, fn := range notify {
		fn()
	}
}

// applyLocked mutates state for one record and returns the callbacks to fire.
func (p *Processor) applyLocked(msg *Message) []func() {
	var notify []func()

	switch msg.Kind {
	case KindStart:
		p.buf = map[string]string{}
		p.streaming = true
		if fn, sid := p.cb.OnStreamingChange, p.sessionID; fn != nil {
			notify = append(notify, func() { fn(true, sid) })
		}

	case KindPartial:
		for i := range msg.ToolCalls {
			frag := &msg.ToolCalls[i]
			key := frag.CallIndex.String()
			p.buf[key] += frag.Content
			frag.AccumulatedContent = p.buf[key]
		}

	case KindOutput:
		// Opaque pass-through, order-significant, never accumulated.

	case KindResponse:
		if msg.Message != nil && msg.Message.Usage != nil {
			p.tokens = msg.Message.Usage.InputTokens + msg.Message.Usage.OutputTokens
			if fn, total := p.cb.OnTokenUpdate, p.tokens; fn != nil {
				notify = append(notify, func() { fn(total) })
			}
		}
		p.streaming = false
		if fn, sid := p.cb.OnStreamingChange, p.sessionID; fn != nil {
			notify = append(notify, func() { fn(false, sid) })
		}

	case KindError:
		p.streaming = false
		if fn, sid := p.cb.OnStreamingChange, p.sessionID; fn != nil {
			notify = append(notify, func() { fn(false, sid) })
		}

	case KindSessionInfo:
		if p.sessionID != "" && p.sessionID != msg.SessionID {
			// Keep the first-seen identity; a second conflicting
			// session_info is logged, never silently adopted.
			logger.Warn("stream: conflicting session_info ignored",
				logger.FieldSessionID, p.sessionID,
				"conflicting_session_id", msg.SessionID,
			)
			break
		}
		p.sessionID = msg.SessionID
		p.projectID = msg.ProjectID
		if fn, sid, pid := p.cb.OnSessionInfo, p.sessionID, p.projectID; fn != nil {
			notify = append(notify, func() { fn(sid, pid) })
		}

	default:
		// Unrecognized kind: appended unmodified, no side effects.
	}

	return notify
}

// Clear resets the message log, raw-line log, and accumulation buffer.
// Used when a tab is rebound to a different or new session.
func (p *Processor) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = nil
	p.buf = map[string]string{}
}

// Detach permanently stops the processor from reacting to further records.
// Called when the owning tab closes; buffers become unreachable garbage.
func (p *Processor) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detached = true
}

// LoadFromStorage replaces the in-memory log wholesale with the session's
// stored output. Lines that fail to parse are skipped with a diagnostic so
// partial or corrupted history still renders whatever is recoverable.
// Callbacks never fire during replay. Idempotent for the same stored blob.
func (p *Processor) LoadFromStorage(ctx context.Context, sessionID int64) error {
	if p.store == nil {
		return apperrors.New("Processor.LoadFromStorage", "no output store configured")
	}
	blob, err := p.store.GetSessionOutput(ctx, sessionID)
	if err != nil {
		return apperrors.Wrapf(err, "Processor.LoadFromStorage", "fetch session %d", sessionID)
	}

	var replay []LogEntry
	buf := map[string]string{}
	skipped := 0
	for _, line := range strings.Split(blob, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			skipped++
			continue
		}
		switch msg.Kind {
		case KindStart:
			buf = map[string]string{}
		case KindPartial:
			for i := range msg.ToolCalls {
				frag := &msg.ToolCalls[i]
				key := frag.CallIndex.String()
				buf[key] += frag.Content
				frag.AccumulatedContent = buf[key]
			}
		}
		replay = append(replay, LogEntry{Message: msg, Raw: line})
	}
	if skipped > 0 {
		logger.Warn("stream: skipped unparseable lines during replay",
			logger.FieldSessionID, p.sessionID,
			logger.FieldCount, skipped,
		)
	}

	p.mu.Lock()
	p.log = replay
	p.buf = buf
	p.mu.Unlock()
	return nil
}

// Log returns a copy of the session log in arrival order.
func (p *Processor) Log() []LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]LogEntry, len(p.log))
	copy(out, p.log)
	return out
}

// Export returns the raw lines of the log joined by newlines, suitable for
// persisting as one JSON-lines blob.
func (p *Processor) Export() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	lines := make([]string, len(p.log))
	for i, e := range p.log {
		lines[i] = e.Raw
	}
	return strings.Join(lines, "\n")
}

// Streaming reports whether a live turn is in flight.
func (p *Processor) Streaming() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streaming
}

// SessionID returns the discovered session identity, "" until session_info.
func (p *Processor) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// ProjectID returns the discovered project identity, "" until session_info.
func (p *Processor) ProjectID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.projectID
}

// TotalTokens returns the last reported input+output token total.
func (p *Processor) TotalTokens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokens
}

// Accumulated returns the current accumulation for one call index, "" if none.
func (p *Processor) Accumulated(callIndex string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf[callIndex]
}
