// sse.go — /api/events SSE 推送。
package web

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sea922/codestudio/pkg/logger"
)

// sseKeepalive 无事件时的 ping 间隔。
const sseKeepalive = 30 * time.Second

// Event 推给 SSE 客户端的单条事件。Type 对应 bus topic 或内部事件名
// (如 "sync"), Data 序列化为 SSE data 字段。
type Event struct {
	Type string
	Data any
}

// EventBus SSE 客户端 fan-out。慢客户端丢事件而不阻塞发布方。
type EventBus struct {
	mu      sync.RWMutex
	nextID  atomic.Int64
	clients map[int64]chan Event
	dropped atomic.Int64
}

// NewEventBus 创建 SSE fan-out。
func NewEventBus() *EventBus {
	return &EventBus{clients: make(map[int64]chan Event)}
}

// Publish 广播事件到所有在线客户端。channel 满则丢弃该客户端的这条事件。
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.clients {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe 注册一个客户端, 返回其 id 和接收 channel。
func (b *EventBus) Subscribe() (int64, chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.clients[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe 注销客户端。
//
// 不关闭 ch — sseHandler 通过 ctx.Done() 退出, GC 回收未引用的 channel。
func (b *EventBus) Unsubscribe(id int64) {
	b.mu.Lock()
	delete(b.clients, id)
	b.mu.Unlock()
}

// Dropped 累计丢弃事件数 (慢客户端)。
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}

// sseHandler Gin SSE handler。
func (s *Server) sseHandler(c *gin.Context) {
	id, ch := s.sse.Subscribe()
	client := fmt.Sprintf("sse-%d", id)
	defer func() {
		s.sse.Unsubscribe(id)
		logger.Info("web: SSE client disconnected", "client_id", client)
	}()

	logger.Info("web: SSE client connected", "client_id", client)

	c.Stream(func(w io.Writer) bool {
		// 复用 timer 避免每次循环创建新定时器 (GC 压力)
		keepalive := time.NewTimer(sseKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return false
				}
				c.SSEvent(evt.Type, evt.Data)
				if !keepalive.Stop() {
					select {
					case <-keepalive.C:
					default:
					}
				}
				keepalive.Reset(sseKeepalive)
				return true
			case <-keepalive.C:
				c.SSEvent("ping", "keepalive")
				keepalive.Reset(sseKeepalive)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		}
	})
}
