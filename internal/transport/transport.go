// Package transport delivers raw claude stream payloads from the backend
// process to the stream processors.
//
// Exactly one transport implementation is active per process: the native
// in-process channel inside the desktop build, or a websocket client in
// the browser-backed deployment. Selection happens once at listener-setup
// time; the non-selected path is never started.
package transport

import "context"

// ChannelName is the logical stream channel shared by both transports.
const ChannelName = "claude-stream"

// Handler receives one raw string payload per stream message.
type Handler func(raw string)

// Transport is a single inbound delivery mechanism for stream payloads.
type Transport interface {
	// Name identifies the implementation ("native" or "socket").
	Name() string
	// Start begins delivery to h. It returns immediately; delivery runs
	// until ctx is cancelled or Close is called.
	Start(ctx context.Context, h Handler) error
	// Close stops delivery. Safe to call more than once.
	Close() error
}

// Select picks the active transport by probing native capability once.
// The probe result is final for the process lifetime.
func Select(probeNative func() bool, native, socket Transport) Transport {
	if probeNative != nil && probeNative() {
		return native
	}
	return socket
}
