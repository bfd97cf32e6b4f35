// Package bus 提供进程内消息总线。
//
// 两类流量:
//   - Tab 路由事件: open-session-in-tab / close-tab 等 pub/sub fan-out → Registry (bus.go)
//   - Claude 流事件: claude-stream.{sessionID} 原始 JSONL 行 → Processor / 前端桥接
//
// 桥接:
//   - cmd/codestudio app.go — bus 事件自动转发到 Wails 前端事件
//   - internal/web sse.go — bus 事件自动转发到 SSE / WebSocket
package bus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sea922/codestudio/pkg/logger"
)

// ========================================
// 消息类型
// ========================================

// Message 总线消息。
type Message struct {
	Topic     string          `json:"topic"`   // open-session-in-tab / claude-stream.sess-1
	From      string          `json:"from"`    // 来源: "ui" / "runner" / "transport" / "system"
	Payload   json.RawMessage `json:"payload"` // 具体数据
	Timestamp time.Time       `json:"timestamp"`
	Seq       int64           `json:"seq"` // 全局序列号
}

// Tab 路由事件常量。事件名即 topic，fire-and-forget，无应答。
const (
	// EventOpenSessionInTab 请求在某个 tab 中打开历史会话。
	EventOpenSessionInTab = "open-session-in-tab"
	// EventClaudeSessionSelected 活动 projects tab 中选中了一个会话。
	EventClaudeSessionSelected = "claude-session-selected"
	// EventOpenClaudeFile 请求打开 CLAUDE.md 等配置文件。
	EventOpenClaudeFile = "open-claude-file"
	// EventOpenAgentExecution 请求打开 agent 执行视图。
	EventOpenAgentExecution = "open-agent-execution"
	// EventOpenCreateAgentTab 请求打开 agent 创建 tab。
	EventOpenCreateAgentTab = "open-create-agent-tab"
	// EventOpenImportAgentTab 请求打开 agent 导入 tab。
	EventOpenImportAgentTab = "open-import-agent-tab"
	// EventCloseTab 请求关闭指定 tab。
	EventCloseTab = "close-tab"
	// EventSwitchToTab 请求切换到指定 tab。
	EventSwitchToTab = "switch-to-tab"
)

// Topic 模式常量。
const (
	// TopicStream Claude 流消息前缀: claude-stream.{sessionID}。
	TopicStream = "claude-stream"
	// TopicTabs 订阅全部 tab 路由事件时使用的过滤集合见 TabEventTopics。
	// TopicAll 广播 (所有订阅者收到)。
	TopicAll = "*"
)

// TabEventTopics Registry 挂载时订阅的全部路由事件。
var TabEventTopics = []string{
	EventOpenSessionInTab,
	EventClaudeSessionSelected,
	EventOpenClaudeFile,
	EventOpenAgentExecution,
	EventOpenCreateAgentTab,
	EventOpenImportAgentTab,
	EventCloseTab,
	EventSwitchToTab,
}

// ========================================
// 事件 payload
// ========================================

// SessionRef 会话摘要引用 (open-session-in-tab / claude-session-selected)。
type SessionRef struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// OpenSessionPayload open-session-in-tab / claude-session-selected 载荷。
type OpenSessionPayload struct {
	Session SessionRef `json:"session"`
}

// ClaudeFilePayload open-claude-file 载荷。
type ClaudeFilePayload struct {
	File string `json:"file"`
}

// AgentExecutionPayload open-agent-execution 载荷。
type AgentExecutionPayload struct {
	Agent       json.RawMessage `json:"agent"`
	TabID       string          `json:"tabId,omitempty"`
	ProjectPath string          `json:"projectPath,omitempty"`
}

// TabIDPayload close-tab / switch-to-tab 载荷。
type TabIDPayload struct {
	TabID string `json:"tabId"`
}

// StreamLinePayload claude-stream.{sessionID} 载荷: 单行原始 JSONL。
type StreamLinePayload struct {
	SessionID string `json:"session_id"`
	Raw       string `json:"raw"`
}

// StreamTopic 构造某个会话的流 topic。
func StreamTopic(sessionID string) string {
	if sessionID == "" {
		return TopicStream
	}
	return TopicStream + "." + sessionID
}

// ========================================
// Subscriber
// ========================================

// Subscriber 订阅者。
type Subscriber struct {
	ID     string       // 唯一标识
	Filter string       // topic 前缀过滤 ("claude-stream" / "close-tab" / "*")
	Ch     chan Message // 消息通道
}

// ========================================
// MessageBus — topic pub/sub
// ========================================

// MessageBus 进程内消息总线。
//
// 支持 topic 前缀匹配和广播:
//   - 订阅 "claude-stream" → 收到 claude-stream.sess-1, claude-stream.sess-2 等
//   - 订阅 "close-tab" → 只收到 close-tab
//   - 订阅 "*" → 收到所有消息
type MessageBus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber // key = subscriber ID
	order       []*Subscriber          // 订阅顺序, fan-out 按此遍历
	seq         int64
	onPublish   func(Message) // 可选: 每条消息的全局回调 (用于桥接前端事件)
}

// NewMessageBus 创建消息总线。
func NewMessageBus() *MessageBus {
	return &MessageBus{
		subscribers: make(map[string]*Subscriber),
	}
}

// SetOnPublish 设置全局发布回调 (用于桥接到 Wails 前端 / SSE)。
func (b *MessageBus) SetOnPublish(fn func(Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPublish = fn
}

// Publish 发布消息到匹配的订阅者, fan-out 按订阅注册顺序投递。
//
// seq 递增和 fan-out 在同一把锁下执行, 保证单个订阅者收到的消息
// 顺序与 seq 一致。
func (b *MessageBus) Publish(msg Message) {
	b.mu.Lock()
	b.seq++
	msg.Seq = b.seq
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	onPub := b.onPublish

	// 在同一把锁下完成 fan-out, 保证 seq 顺序
	for _, sub := range b.order {
		if matchTopic(sub.Filter, msg.Topic) {
			select {
			case sub.Ch <- msg:
			default:
				// 通道满, 丢弃 (避免阻塞发布者)
			}
		}
	}
	b.mu.Unlock()

	// 全局回调在锁外执行 (回调可能耗时, 避免持锁太久)
	if onPub != nil {
		onPub(msg)
	}
}

// PublishEvent 序列化 payload 并发布。payload 无法序列化时丢弃并记日志。
func (b *MessageBus) PublishEvent(topic, from string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Error("bus: marshal event payload failed",
			logger.FieldTopic, topic,
			logger.FieldError, err,
		)
		return
	}
	b.Publish(Message{Topic: topic, From: from, Payload: raw})
}

// Subscribe 订阅消息。filter 为 topic 前缀 ("claude-stream" / "close-tab" / "*")。
func (b *MessageBus) Subscribe(id, filter string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	// 重复 id 视为重新订阅, 旧通道关闭
	b.removeLocked(id)

	sub := &Subscriber{
		ID:     id,
		Filter: filter,
		Ch:     make(chan Message, 64),
	}
	b.subscribers[id] = sub
	b.order = append(b.order, sub)
	return sub
}

// Unsubscribe 取消订阅。
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(id)
}

func (b *MessageBus) removeLocked(id string) {
	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	close(sub.Ch)
	delete(b.subscribers, id)
	for i, s := range b.order {
		if s == sub {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// SubscriberCount 返回当前订阅者数量。
func (b *MessageBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Seq 返回当前序列号。
func (b *MessageBus) Seq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// ========================================
// Topic 匹配
// ========================================

// matchTopic 检查 topic 是否匹配 filter。
//
// 规则:
//   - filter "*" 匹配所有 topic
//   - filter "claude-stream" 匹配 "claude-stream", "claude-stream.sess-1"
//   - filter "close-tab" 只匹配 "close-tab"
func matchTopic(filter, topic string) bool {
	if filter == TopicAll {
		return true
	}
	if topic == filter {
		return true
	}
	// 前缀匹配: filter="claude-stream" 匹配 topic="claude-stream.sess-1"
	if len(topic) > len(filter) && topic[:len(filter)] == filter && topic[len(filter)] == '.' {
		return true
	}
	return false
}
