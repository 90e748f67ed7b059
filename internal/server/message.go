// Package server defines the wire frame types exchanged with relay clients
// and helpers for building the server-generated payloads.
package server

import (
	"encoding/json"
	"strings"
	"time"
)

// Frame type discriminators used on the wire.
const (
	TypeChat   = "chat"
	TypeFile   = "file"
	TypePing   = "ping"
	TypePong   = "pong"
	TypeSystem = "system"
)

// AnonymousNickname is substituted when a frame carries no usable nickname.
const AnonymousNickname = "Anonymous"

// MaxChatRunes is the maximum chat text length; longer texts are truncated,
// never rejected.
const MaxChatRunes = 5000

// Message is the JSON frame format exchanged with clients. Outbound
// broadcast and system frames always carry a server-side timestamp in
// milliseconds since the epoch.
type Message struct {
	Type     string `json:"type"`
	Nickname string `json:"nickname,omitempty"`
	Text     string `json:"text,omitempty"`
	File     string `json:"file,omitempty"`
	TS       int64  `json:"ts,omitempty"`
}

// BroadcastMessage encapsulates a payload being fanned out to one room,
// including the originating client so it can be excluded from delivery.
type BroadcastMessage struct {
	Room    string
	Sender  *Client
	Payload []byte
}

// inboundFrame holds a raw client frame before validation. The nickname,
// text, and file fields stay untyped so the router can check their shape
// instead of failing the whole parse on a mistyped field.
type inboundFrame struct {
	Type     string `json:"type"`
	Nickname any    `json:"nickname"`
	Text     any    `json:"text"`
	File     any    `json:"file"`
}

func decodeFrame(raw []byte) (inboundFrame, bool) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return inboundFrame{}, false
	}
	return frame, true
}

// nicknameOf extracts a usable nickname from a raw frame field, falling back
// to the anonymous sentinel for missing, empty, or non-string values.
func nicknameOf(v any) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return AnonymousNickname
}

// truncateText caps chat text at MaxChatRunes characters. Counting runes
// rather than bytes keeps multibyte characters intact.
func truncateText(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxChatRunes {
		return s
	}
	return string(runes[:MaxChatRunes])
}

func timestamp() int64 {
	return time.Now().UnixMilli()
}

func marshalMessage(msg Message) []byte {
	payload, _ := json.Marshal(msg)
	return payload
}

func chatPayload(nickname, text string) []byte {
	return marshalMessage(Message{Type: TypeChat, Nickname: nickname, Text: truncateText(text), TS: timestamp()})
}

func filePayload(nickname, fileRef string) []byte {
	return marshalMessage(Message{Type: TypeFile, Nickname: nickname, File: fileRef, TS: timestamp()})
}

func systemPayload(text string) []byte {
	return marshalMessage(Message{Type: TypeSystem, Text: text, TS: timestamp()})
}

func pongPayload() []byte {
	return marshalMessage(Message{Type: TypePong})
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
