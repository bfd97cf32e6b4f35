package transport

import (
	"context"
	"sync"

	apperrors "github.com/sea922/codestudio/pkg/errors"
	"github.com/sea922/codestudio/pkg/util"
)

// Native is the in-process transport used by the desktop build. The
// runner pushes each stdout line through Deliver; payloads buffered
// before Start are kept, payloads after Close are dropped.
type Native struct {
	mu      sync.Mutex
	ch      chan string
	closed  bool
	started bool
}

// NewNative creates an idle native transport.
func NewNative() *Native {
	return &Native{ch: make(chan string, 256)}
}

func (n *Native) Name() string { return "native" }

// Start begins draining delivered payloads into h.
func (n *Native) Start(ctx context.Context, h Handler) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return apperrors.New("NativeTransport.Start", "already started")
	}
	if n.closed {
		return apperrors.Wrap(apperrors.ErrClosed, "NativeTransport.Start", "transport closed")
	}
	n.started = true

	ch := n.ch
	util.SafeGo(func() {
		for {
			select {
			case raw, ok := <-ch:
				if !ok {
					return
				}
				h(raw)
			case <-ctx.Done():
				return
			}
		}
	})
	return nil
}

// Deliver enqueues one raw payload. Returns false when the transport is
// closed or its buffer is full; the payload is dropped in both cases.
func (n *Native) Deliver(raw string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return false
	}
	select {
	case n.ch <- raw:
		return true
	default:
		return false
	}
}

// Close stops delivery and releases the channel.
func (n *Native) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	close(n.ch)
	return nil
}
