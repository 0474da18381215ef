package server

import "strings"

// Inbound frame types.
const (
	FrameJoinChat = "join_chat"
	FrameMessage  = "message"
)

// Frame is the JSON object a client sends per WebSocket message.
type Frame struct {
	Type    string `json:"type"`
	ChatID  int64  `json:"chat_id"`
	Content string `json:"content,omitempty"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
