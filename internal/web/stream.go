// stream.go — /ws/claude-stream websocket 广播。
//
// web 部署下 claude 进程跑在服务端, socket transport (或浏览器) 连到这里
// 接收原始 stream-json 行, 每行一个 text frame。
package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/sea922/codestudio/pkg/logger"
)

const streamWriteTimeout = 5 * time.Second

// StreamHub 管理已连接的流客户端并向它们广播行。
type StreamHub struct {
	mu       sync.Mutex
	conns    map[*websocket.Conn]bool
	upgrader websocket.Upgrader
	closed   bool
}

// NewStreamHub 创建广播器。
func NewStreamHub() *StreamHub {
	return &StreamHub{
		conns: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// 桌面 socket 模式与浏览器同源部署都要能连
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Broadcast 把一行原始输出发给所有客户端, 写失败的连接就地剔除。
func (h *StreamHub) Broadcast(raw string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			logger.Warn("web: stream client write failed, dropping",
				logger.FieldAddr, conn.RemoteAddr().String(),
				logger.FieldError, err,
			)
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

// ClientCount 返回当前连接数。
func (h *StreamHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close 断开所有客户端并拒绝新连接。
func (h *StreamHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn := range h.conns {
		conn.Close()
		delete(h.conns, conn)
	}
}

func (h *StreamHub) add(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = true
	return true
}

func (h *StreamHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

// wsStreamHandler 升级连接并挂入 hub。客户端只收不发,
// 读循环仅用于探测断开。
func (s *Server) wsStreamHandler(c *gin.Context) {
	conn, err := s.hub.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("web: websocket upgrade failed", logger.FieldError, err)
		return
	}
	if !s.hub.add(conn) {
		conn.Close()
		return
	}
	logger.Info("web: stream client connected", logger.FieldAddr, conn.RemoteAddr().String())

	defer func() {
		s.hub.remove(conn)
		conn.Close()
		logger.Info("web: stream client disconnected", logger.FieldAddr, conn.RemoteAddr().String())
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
