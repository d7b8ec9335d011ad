package chatclient

import (
	"encoding/json"
	"sort"
	"sync"

	"dealerchat-backend/internal/model"
)

// Multiplexer routes inbound live events for an operator who has every
// conversation listed but at most one focused. Directory aggregates update
// for every event; the visible log only grows when the event belongs to the
// focused conversation. It holds no authoritative state and can be rebuilt
// from ListConversations plus a History fetch at any time.
type Multiplexer struct {
	mu        sync.Mutex
	directory map[string]*model.Conversation
	focused   string // conversation id, empty when nothing is focused
	log       []model.Message
	seen      map[string]bool // message ids already in the visible log
}

func NewMultiplexer() *Multiplexer {
	return &Multiplexer{
		directory: make(map[string]*model.Conversation),
		seen:      make(map[string]bool),
	}
}

// SetDirectory replaces the aggregate list with a fresh server snapshot.
func (m *Multiplexer) SetDirectory(convs []model.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.directory = make(map[string]*model.Conversation, len(convs))
	for i := range convs {
		c := convs[i]
		m.directory[c.ID] = &c
	}
	if m.focused != "" && m.directory[m.focused] == nil {
		m.clearFocusLocked()
	}
}

// Focus selects one conversation and seeds its visible log from a history
// fetch. The log is dedup'd by message id, so re-focusing after a reconnect
// cannot introduce duplicates.
func (m *Multiplexer) Focus(conversationID string, history []model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.focused = conversationID
	m.log = nil
	m.seen = make(map[string]bool)
	for _, msg := range history {
		if !m.seen[msg.ID] {
			m.seen[msg.ID] = true
			m.log = append(m.log, msg)
		}
	}
}

func (m *Multiplexer) ClearFocus() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearFocusLocked()
}

func (m *Multiplexer) clearFocusLocked() {
	m.focused = ""
	m.log = nil
	m.seen = make(map[string]bool)
}

// Focused returns the focused conversation id, empty when none.
func (m *Multiplexer) Focused() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focused
}

// HandleEvent feeds one live-channel event through the multiplexer. Wire it
// as the session's message handler.
func (m *Multiplexer) HandleEvent(event *model.WSEvent) {
	switch event.Type {
	case model.EventNewMessage:
		var msg model.Message
		if err := json.Unmarshal(event.Data, &msg); err != nil {
			return
		}
		m.HandleMessage(msg)
	case model.EventConversationDeleted:
		var del model.WSDeleted
		if err := json.Unmarshal(event.Data, &del); err != nil {
			return
		}
		m.HandleDeleted(del.ConversationID)
	}
}

// HandleMessage updates the directory aggregate for the message's
// conversation and appends to the visible log when the message belongs to
// the focused conversation: its sender or receiver is that thread's user.
func (m *Multiplexer) HandleMessage(msg model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.directory[msg.ConversationID]
	if entry == nil {
		userID := msg.SenderID
		if msg.SenderRole == model.RoleAdmin {
			userID = msg.ReceiverID
		}
		entry = &model.Conversation{ID: msg.ConversationID, UserID: userID}
		m.directory[msg.ConversationID] = entry
	}

	entry.Preview = msg.Body
	entry.PreviewAt = msg.Timestamp
	if msg.SenderRole == model.RoleUser {
		entry.UnreadCount++
	}

	if m.focused == "" {
		return
	}
	focusedConv := m.directory[m.focused]
	if focusedConv == nil {
		return
	}
	if msg.SenderID != focusedConv.UserID && msg.ReceiverID != focusedConv.UserID {
		return
	}
	if !m.seen[msg.ID] {
		m.seen[msg.ID] = true
		m.log = append(m.log, msg)
	}
}

// HandleDeleted removes the conversation from the directory. Deleting the
// focused conversation clears the visible log.
func (m *Multiplexer) HandleDeleted(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.directory, conversationID)
	if m.focused == conversationID {
		m.clearFocusLocked()
	}
}

// MarkedRead zeroes the local unread aggregate after a successful markRead
// call; the next directory snapshot confirms it.
func (m *Multiplexer) MarkedRead(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry := m.directory[conversationID]; entry != nil {
		entry.UnreadCount = 0
	}
}

// Reconcile replaces the focused log with a fresh history fetch, merging by
// server-assigned id. This is the post-reconnect recovery path: events
// missed while disconnected appear exactly once.
func (m *Multiplexer) Reconcile(history []model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.focused == "" {
		return
	}

	m.log = nil
	m.seen = make(map[string]bool)
	for _, msg := range history {
		if !m.seen[msg.ID] {
			m.seen[msg.ID] = true
			m.log = append(m.log, msg)
		}
	}
}

// Log returns a copy of the focused conversation's visible messages.
func (m *Multiplexer) Log() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Message, len(m.log))
	copy(out, m.log)
	return out
}

// Directory returns the aggregates sorted freshest first.
func (m *Multiplexer) Directory() []model.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Conversation, 0, len(m.directory))
	for _, c := range m.directory {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PreviewAt.After(out[j].PreviewAt)
	})
	return out
}
