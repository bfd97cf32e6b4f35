package stream

import "encoding/json"

// Message kinds carried on the claude-stream channel.
const (
	KindStart       = "start"
	KindPartial     = "partial"
	KindOutput      = "output"
	KindResponse    = "response"
	KindError       = "error"
	KindSessionInfo = "session_info"
)

// Usage is the token accounting attached to a terminal response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MessageBody is the nested message object of a response record.
type MessageBody struct {
	Usage *Usage `json:"usage,omitempty"`
}

// ToolCallFragment is one incremental tool-call delta within a partial record.
//
// CallIndex is stable across all fragments of one tool invocation; the wire
// encodes it as either a number or a string, so json.Number keeps both.
// AccumulatedContent is attached by the processor on ingest so downstream
// consumers never recompute the concatenation.
type ToolCallFragment struct {
	CallIndex          json.Number `json:"partial_tool_call_index"`
	Content            string      `json:"content"`
	AccumulatedContent string      `json:"accumulated_content,omitempty"`
}

// Message is one record of the line-delimited claude stream, discriminated
// by Kind. Unknown kinds are preserved as-is for forward compatibility.
type Message struct {
	Kind      string             `json:"kind"`
	ToolCalls []ToolCallFragment `json:"tool_calls,omitempty"`
	Content   string             `json:"content,omitempty"`
	Message   *MessageBody       `json:"message,omitempty"`
	Error     string             `json:"error,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
	ProjectID string             `json:"project_id,omitempty"`
}

// LogEntry pairs a parsed message with its original raw line. The raw line
// is kept verbatim for replay and export.
type LogEntry struct {
	Message Message
	Raw     string
}
