package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dealerchat-backend/internal/metrics"
	"dealerchat-backend/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound    = errors.New("conversation not found")
	ErrEmptyBody   = errors.New("message body is required")
	ErrNoRecipient = errors.New("recipient is required")
	ErrInvalidRole = errors.New("invalid sender role")
)

// AdminPoolID is the receiver recorded on user messages: storefront users
// talk to the admin pool, not to one specific operator.
const AdminPoolID = "admin"

// MessageStore is the persistence surface the chat service depends on.
// Implemented by repository.ChatRepository; a conversation that does not
// resolve surfaces as pgx.ErrNoRows.
type MessageStore interface {
	EnsureConversation(ctx context.Context, userID string) (string, error)
	Append(ctx context.Context, conversationID string, senderRole model.Role, senderID, receiverID, body string) (*model.Message, error)
	History(ctx context.Context, conversationID string) ([]model.Message, error)
	ConversationByUser(ctx context.Context, userID string) (string, error)
	UserByConversation(ctx context.Context, conversationID string) (string, error)
	MarkRead(ctx context.Context, conversationID string, readerRole model.Role) error
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Pusher fans server events out over the live channel. Implemented by Hub.
type Pusher interface {
	SendToUser(userID string, event *model.WSEvent)
	SendToAdmins(event *model.WSEvent)
}

type ChatService struct {
	store MessageStore
	push  Pusher
	log   zerolog.Logger
}

func NewChatService(store MessageStore, push Pusher, log zerolog.Logger) *ChatService {
	return &ChatService{store: store, push: push, log: log}
}

// Send appends one message and pushes it to the interested sessions. The
// conversation is created implicitly on a user's first message, and also
// when an admin writes first to a user with no existing thread.
func (s *ChatService) Send(ctx context.Context, sender model.Identity, receiverID, body string) (*model.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyBody
	}

	var userID string
	switch sender.Role {
	case model.RoleUser:
		userID = sender.ID
		if receiverID == "" {
			receiverID = AdminPoolID
		}
	case model.RoleAdmin:
		if receiverID == "" {
			return nil, ErrNoRecipient
		}
		userID = receiverID
	default:
		return nil, ErrInvalidRole
	}

	conversationID, err := s.store.EnsureConversation(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}

	msg, err := s.store.Append(ctx, conversationID, sender.Role, sender.ID, receiverID, body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("append message: %w", err)
	}

	metrics.MessagesStored.WithLabelValues(string(sender.Role)).Inc()
	s.log.Debug().Str("conversation", conversationID).Str("sender", sender.ID).Msg("message stored")

	// Fan out to the conversation's user topic and to every operator.
	// Senders receive their own message back; clients merge by id, so the
	// echo doubles as the live-channel store acknowledgment.
	event := model.MustEvent(model.EventNewMessage, msg)
	s.push.SendToUser(userID, event)
	s.push.SendToAdmins(event)

	return msg, nil
}

// History returns the conversation log in timestamp order.
func (s *ChatService) History(ctx context.Context, conversationID string) ([]model.Message, error) {
	msgs, err := s.store.History(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msgs, nil
}

// HistoryForUser resolves a storefront user's own thread.
func (s *ChatService) HistoryForUser(ctx context.Context, userID string) ([]model.Message, error) {
	conversationID, err := s.store.ConversationByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.History(ctx, conversationID)
}

// MarkRead flags the counterparty's messages as read. Idempotent.
func (s *ChatService) MarkRead(ctx context.Context, conversationID string, reader model.Identity) error {
	err := s.store.MarkRead(ctx, conversationID, reader.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ListConversations returns the admin directory with live aggregates.
func (s *ChatService) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	return s.store.ListConversations(ctx)
}

// DeleteConversation permanently removes a thread and its messages, then
// notifies open sessions so focused views get cleared. Not idempotent: the
// second call fails with ErrNotFound.
func (s *ChatService) DeleteConversation(ctx context.Context, conversationID string) error {
	userID, err := s.store.UserByConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	metrics.ConversationsDeleted.Inc()
	s.log.Info().Str("conversation", conversationID).Msg("conversation deleted")

	event := model.MustEvent(model.EventConversationDeleted, model.WSDeleted{ConversationID: conversationID})
	s.push.SendToUser(userID, event)
	s.push.SendToAdmins(event)
	return nil
}
