package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dealerchat-backend/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// memStore is an in-memory MessageStore with the same semantics the SQL
// repository implements: per-conversation linearized appends, monotonic
// timestamps, idempotent markRead, one-shot delete.
type memStore struct {
	mu            sync.Mutex
	conversations map[string]string // id -> userID
	byUser        map[string]string // userID -> id
	messages      map[string][]model.Message
}

func newMemStore() *memStore {
	return &memStore{
		conversations: make(map[string]string),
		byUser:        make(map[string]string),
		messages:      make(map[string][]model.Message),
	}
}

func (s *memStore) EnsureConversation(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byUser[userID]; ok {
		return id, nil
	}
	id := uuid.NewString()
	s.byUser[userID] = id
	s.conversations[id] = userID
	return id, nil
}

func (s *memStore) Append(_ context.Context, conversationID string, senderRole model.Role, senderID, receiverID, body string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, pgx.ErrNoRows
	}

	ts := time.Now()
	if msgs := s.messages[conversationID]; len(msgs) > 0 {
		if last := msgs[len(msgs)-1].Timestamp; ts.Before(last) {
			ts = last
		}
	}
	msg := model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderRole:     senderRole,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Body:           body,
		Timestamp:      ts,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return &msg, nil
}

func (s *memStore) History(_ context.Context, conversationID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, pgx.ErrNoRows
	}
	out := make([]model.Message, len(s.messages[conversationID]))
	copy(out, s.messages[conversationID])
	return out, nil
}

func (s *memStore) ConversationByUser(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byUser[userID]; ok {
		return id, nil
	}
	return "", pgx.ErrNoRows
}

func (s *memStore) UserByConversation(_ context.Context, conversationID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if userID, ok := s.conversations[conversationID]; ok {
		return userID, nil
	}
	return "", pgx.ErrNoRows
}

func (s *memStore) MarkRead(_ context.Context, conversationID string, readerRole model.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return pgx.ErrNoRows
	}
	now := time.Now()
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].SenderRole == readerRole.Other() && msgs[i].ReadAt == nil {
			t := now
			msgs[i].ReadAt = &t
		}
	}
	return nil
}

func (s *memStore) ListConversations(_ context.Context) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Conversation
	for id, userID := range s.conversations {
		c := model.Conversation{ID: id, UserID: userID}
		for _, m := range s.messages[id] {
			c.Preview = m.Body
			c.PreviewAt = m.Timestamp
			if m.SenderRole == model.RoleUser && m.ReadAt == nil {
				c.UnreadCount++
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) DeleteConversation(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.conversations[conversationID]
	if !ok {
		return pgx.ErrNoRows
	}
	delete(s.conversations, conversationID)
	delete(s.byUser, userID)
	delete(s.messages, conversationID)
	return nil
}

// recordingPusher captures fan-out for assertions.
type recordingPusher struct {
	mu     sync.Mutex
	toUser []string // userID:eventType
	admins []string // eventType
}

func (p *recordingPusher) SendToUser(userID string, event *model.WSEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toUser = append(p.toUser, userID+":"+event.Type)
}

func (p *recordingPusher) SendToAdmins(event *model.WSEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.admins = append(p.admins, event.Type)
}

func newTestService() (*ChatService, *memStore, *recordingPusher) {
	store := newMemStore()
	push := &recordingPusher{}
	svc := NewChatService(store, push, zerolog.Nop())
	return svc, store, push
}

func TestSendCreatesConversationImplicitly(t *testing.T) {
	svc, store, push := newTestService()
	ctx := context.Background()

	user := model.Identity{ID: "u1", Role: model.RoleUser}
	msg, err := svc.Send(ctx, user, "", "Hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID == "" || msg.ConversationID == "" {
		t.Fatal("expected store-assigned ids")
	}
	if msg.ReceiverID != AdminPoolID {
		t.Fatalf("user message receiver = %q, want %q", msg.ReceiverID, AdminPoolID)
	}

	if _, err := store.ConversationByUser(ctx, "u1"); err != nil {
		t.Fatalf("conversation not created: %v", err)
	}

	push.mu.Lock()
	defer push.mu.Unlock()
	if len(push.admins) != 1 || push.admins[0] != model.EventNewMessage {
		t.Fatalf("admins got %v, want one newMessage", push.admins)
	}
}

func TestSendAdminToUnknownUserCreatesConversation(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	admin := model.Identity{ID: "a1", Role: model.RoleAdmin}
	msg, err := svc.Send(ctx, admin, "u2", "We have the car you asked about")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.SenderRole != model.RoleAdmin || msg.ReceiverID != "u2" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if _, err := store.ConversationByUser(ctx, "u2"); err != nil {
		t.Fatalf("conversation not created for user: %v", err)
	}
}

func TestSendValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Send(ctx, model.Identity{ID: "u1", Role: model.RoleUser}, "", "   "); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("empty body: got %v, want ErrEmptyBody", err)
	}
	if _, err := svc.Send(ctx, model.Identity{ID: "a1", Role: model.RoleAdmin}, "", "hi"); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("admin without recipient: got %v, want ErrNoRecipient", err)
	}
}

func TestHistoryOrdering(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	user := model.Identity{ID: "u1", Role: model.RoleUser}

	first, _ := svc.Send(ctx, user, "", "first")
	second, _ := svc.Send(ctx, user, "", "second")

	msgs, err := svc.History(ctx, first.ConversationID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != first.ID || msgs[1].ID != second.ID {
		t.Fatalf("history out of order: %v", msgs)
	}
	if msgs[1].Timestamp.Before(msgs[0].Timestamp) {
		t.Fatal("timestamps went backwards")
	}
}

func TestHistoryNotFound(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.History(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if _, err := svc.HistoryForUser(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	user := model.Identity{ID: "u1", Role: model.RoleUser}
	admin := model.Identity{ID: "a1", Role: model.RoleAdmin}

	msg, _ := svc.Send(ctx, user, "", "Hello")
	convID := msg.ConversationID

	if err := svc.MarkRead(ctx, convID, admin); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	msgs, _ := svc.History(ctx, convID)
	if msgs[0].ReadAt == nil {
		t.Fatal("readAt not set")
	}
	firstRead := *msgs[0].ReadAt

	if err := svc.MarkRead(ctx, convID, admin); err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}
	msgs, _ = svc.History(ctx, convID)
	if !msgs[0].ReadAt.Equal(firstRead) {
		t.Fatal("second markRead changed readAt")
	}

	convs, _ := svc.ListConversations(ctx)
	if convs[0].UnreadCount != 0 {
		t.Fatalf("unreadCount = %d after markRead, want 0", convs[0].UnreadCount)
	}
}

func TestDeleteConversationOneShot(t *testing.T) {
	svc, _, push := newTestService()
	ctx := context.Background()
	user := model.Identity{ID: "u1", Role: model.RoleUser}

	msg, _ := svc.Send(ctx, user, "", "Hello")
	convID := msg.ConversationID

	if err := svc.DeleteConversation(ctx, convID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeleteConversation(ctx, convID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: got %v, want ErrNotFound", err)
	}
	if _, err := svc.History(ctx, convID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("history after delete: got %v, want ErrNotFound", err)
	}

	push.mu.Lock()
	defer push.mu.Unlock()
	found := false
	for _, e := range push.admins {
		if e == model.EventConversationDeleted {
			found = true
		}
	}
	if !found {
		t.Fatal("admins were not notified of deletion")
	}
}

// Full support flow: user opens the thread, admin reads, replies, deletes.
func TestSupportScenario(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	user := model.Identity{ID: "u1", Role: model.RoleUser}
	admin := model.Identity{ID: "a1", Role: model.RoleAdmin}

	m1, err := svc.Send(ctx, user, "", "Hello")
	if err != nil {
		t.Fatalf("user send: %v", err)
	}

	convs, _ := svc.ListConversations(ctx)
	if len(convs) != 1 || convs[0].UnreadCount != 1 {
		t.Fatalf("directory = %+v, want one conversation with unread 1", convs)
	}
	c1 := convs[0].ID

	msgs, _ := svc.History(ctx, c1)
	if len(msgs) != 1 || msgs[0].ID != m1.ID {
		t.Fatalf("history = %v, want [m1]", msgs)
	}

	if err := svc.MarkRead(ctx, c1, admin); err != nil {
		t.Fatalf("markRead: %v", err)
	}
	convs, _ = svc.ListConversations(ctx)
	if convs[0].UnreadCount != 0 {
		t.Fatal("unread not reset")
	}

	m2, err := svc.Send(ctx, admin, "u1", "Hi, how can I help?")
	if err != nil {
		t.Fatalf("admin reply: %v", err)
	}
	msgs, _ = svc.History(ctx, c1)
	if len(msgs) != 2 || msgs[0].ID != m1.ID || msgs[1].ID != m2.ID {
		t.Fatal("reply not ordered after first message")
	}

	if err := svc.DeleteConversation(ctx, c1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	convs, _ = svc.ListConversations(ctx)
	if len(convs) != 0 {
		t.Fatal("deleted conversation still listed")
	}
	if _, err := svc.History(ctx, c1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("history after delete: got %v, want ErrNotFound", err)
	}
}
