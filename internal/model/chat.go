package model

import "time"

// Message is a stored chat message row. The id and timestamp are assigned by
// the store on acceptance, never by the client.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderRole     Role       `json:"senderRole"`
	SenderID       string     `json:"senderId"`
	ReceiverID     string     `json:"receiverId"`
	Body           string     `json:"body"`
	Timestamp      time.Time  `json:"timestamp"`
	ReadAt         *time.Time `json:"readAt"`
}

// Conversation is the 1:1 thread between one storefront user and the admin
// pool. UnreadCount counts user messages the admin side has not read yet;
// both it and the preview are computed from the message log at read time.
type Conversation struct {
	ID          string    `json:"conversationId"`
	UserID      string    `json:"userId"`
	Preview     string    `json:"preview"`
	PreviewAt   time.Time `json:"previewAt"`
	UnreadCount int       `json:"unreadCount"`
}

// SendRequest is the payload for posting a message over the REST path.
type SendRequest struct {
	ReceiverID string `json:"receiverId"`
	Body       string `json:"body"`
}
