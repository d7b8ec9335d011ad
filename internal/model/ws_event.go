package model

import "encoding/json"

// Event types carried over the live channel. Client to server: join, send.
// Server to client: connected, newMessage, conversationDeleted,
// connectionError.
const (
	EventJoin                = "join"
	EventSend                = "send"
	EventConnected           = "connected"
	EventNewMessage          = "newMessage"
	EventConversationDeleted = "conversationDeleted"
	EventConnectionError     = "connectionError"
	EventPing                = "ping"
	EventPong                = "pong"
)

type WSEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WSJoin is the handshake a client must complete before any message traffic
// is accepted. The identity must match the one the transport authenticated.
type WSJoin struct {
	Identity Identity `json:"identity"`
}

// WSSend asks the server to append a message. For users the target resolves
// to their own conversation; admins address the user they are replying to.
type WSSend struct {
	ConversationTargetID string `json:"conversationTargetId"`
	Body                 string `json:"body"`
}

type WSError struct {
	Reason string `json:"reason"`
}

type WSDeleted struct {
	ConversationID string `json:"conversationId"`
}

func MustEvent(eventType string, payload any) *WSEvent {
	data, _ := json.Marshal(payload)
	return &WSEvent{Type: eventType, Data: data}
}
