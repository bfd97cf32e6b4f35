package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/sea922/codestudio/pkg/errors"
	"github.com/sea922/codestudio/pkg/logger"
	"github.com/sea922/codestudio/pkg/util"
)

const (
	socketHandshakeTimeout  = 5 * time.Second
	socketReconnectBase     = 500 * time.Millisecond
	socketReconnectMax      = 10 * time.Second
	socketReconnectAttempts = 20
)

// Socket is the websocket-backed transport used by the browser deployment.
// It dials the stream endpoint, forwards each text frame as one payload,
// and reconnects with capped exponential backoff on read failure.
type Socket struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	started bool
	stopped atomic.Bool
}

// NewSocket creates a socket transport for the given ws:// URL.
func NewSocket(url string) *Socket {
	return &Socket{url: url}
}

func (s *Socket) Name() string { return "socket" }

// Start dials the endpoint and begins the read loop.
func (s *Socket) Start(ctx context.Context, h Handler) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return apperrors.New("SocketTransport.Start", "already started")
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	util.SafeGo(func() { s.run(ctx, h) })
	return nil
}

func (s *Socket) run(ctx context.Context, h Handler) {
	attempt := 0
	for !s.stopped.Load() && ctx.Err() == nil {
		attempt++
		if !sleepWithContext(ctx, reconnectDelay(attempt)) {
			return
		}

		conn, err := s.dial(ctx)
		if err != nil {
			if attempt >= socketReconnectAttempts {
				logger.Error("transport: socket reconnect exhausted",
					logger.FieldURL, s.url,
					logger.FieldCount, attempt,
					logger.FieldError, err,
				)
				return
			}
			logger.Warn("transport: socket dial failed",
				logger.FieldURL, s.url,
				logger.FieldCount, attempt,
				logger.FieldError, err,
			)
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		logger.Info("transport: socket connected", logger.FieldURL, s.url)
		attempt = 0

		s.readLoop(ctx, conn, h)
	}
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: socketHandshakeTimeout,
		NetDialContext:   (&net.Dialer{Timeout: socketHandshakeTimeout}).DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	return conn, err
}

// readLoop forwards frames until the connection breaks or ctx ends.
func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn, h Handler) {
	defer func() { _ = conn.Close() }()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !s.stopped.Load() && ctx.Err() == nil {
				logger.Warn("transport: socket read failed, reconnecting",
					logger.FieldURL, s.url,
					logger.FieldError, err,
				)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h(string(data))
	}
}

// Close stops the read loop and closes the current connection.
func (s *Socket) Close() error {
	if s.stopped.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	return nil
}

// reconnectDelay returns the backoff before the given 1-based attempt.
func reconnectDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := socketReconnectBase
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= socketReconnectMax {
			return socketReconnectMax
		}
	}
	if delay > socketReconnectMax {
		return socketReconnectMax
	}
	return delay
}

func sleepWithContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
