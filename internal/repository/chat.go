package repository

import (
	"context"
	"fmt"

	"dealerchat-backend/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChatRepository is the single writer of truth for conversations and
// messages. Everything above it (hub, multiplexer, clients) is a projection
// rebuildable from History.
type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

// EnsureConversation returns the conversation id for the given user,
// creating the thread if it does not exist yet. The user_id uniqueness
// constraint guarantees exactly one conversation per user even under
// concurrent first messages.
func (r *ChatRepository) EnsureConversation(ctx context.Context, userID string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = conversations.user_id
		RETURNING id
	`, uuid.NewString(), userID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("ensure conversation: %w", err)
	}
	return id, nil
}

// Append stores one message and assigns its id, sequence number and
// timestamp. The conversation row is locked for the duration of the
// transaction, so concurrent appends to the same conversation are
// linearized and timestamps never go backwards.
func (r *ChatRepository) Append(ctx context.Context, conversationID string, senderRole model.Role, senderID, receiverID, body string) (*model.Message, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	var seq int64
	err = tx.QueryRow(ctx, `
		UPDATE conversations SET last_seq = last_seq + 1
		WHERE id = $1
		RETURNING last_seq
	`, conversationID).Scan(&seq)
	if err != nil {
		return nil, err // pgx.ErrNoRows when the conversation is gone
	}

	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderRole:     senderRole,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Body:           body,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, seq, sender_role, sender_id, receiver_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, GREATEST(
			NOW(),
			COALESCE((SELECT MAX(created_at) FROM messages WHERE conversation_id = $2), NOW())
		))
		RETURNING created_at
	`, msg.ID, conversationID, seq, senderRole, senderID, receiverID, body).Scan(&msg.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return msg, nil
}

// History returns all messages of a conversation in ascending order.
// Returns pgx.ErrNoRows when the conversation does not exist, so callers can
// distinguish an empty thread from a deleted one.
func (r *ChatRepository) History(ctx context.Context, conversationID string) ([]model.Message, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)
	`, conversationID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check conversation: %w", err)
	}
	if !exists {
		return nil, pgx.ErrNoRows
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, conversation_id, sender_role, sender_id, receiver_id, body, created_at, read_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderRole, &m.SenderID, &m.ReceiverID, &m.Body, &m.Timestamp, &m.ReadAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ConversationByUser resolves the thread owned by a storefront user.
func (r *ChatRepository) ConversationByUser(ctx context.Context, userID string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM conversations WHERE user_id = $1
	`, userID).Scan(&id)
	return id, err
}

// UserByConversation returns the storefront user who owns the thread.
func (r *ChatRepository) UserByConversation(ctx context.Context, conversationID string) (string, error) {
	var userID string
	err := r.pool.QueryRow(ctx, `
		SELECT user_id FROM conversations WHERE id = $1
	`, conversationID).Scan(&userID)
	return userID, err
}

// MarkRead stamps read_at on every unread message sent by the other role.
// Calling it again is a no-op; the WHERE clause only matches rows that are
// still unread.
func (r *ChatRepository) MarkRead(ctx context.Context, conversationID string, readerRole model.Role) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)
	`, conversationID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check conversation: %w", err)
	}
	if !exists {
		return pgx.ErrNoRows
	}

	_, err = r.pool.Exec(ctx, `
		UPDATE messages SET read_at = NOW()
		WHERE conversation_id = $1 AND sender_role = $2 AND read_at IS NULL
	`, conversationID, readerRole.Other())
	return err
}

// ListConversations returns every thread with its live unread count and
// last-message preview, freshest first. Aggregates are computed from the
// message log on every call, never cached.
func (r *ChatRepository) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.user_id,
			COALESCE(last.body, ''), COALESCE(last.created_at, c.created_at),
			COALESCE(unread.n, 0)
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT body, created_at FROM messages
			WHERE conversation_id = c.id
			ORDER BY seq DESC LIMIT 1
		) last ON TRUE
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS n FROM messages
			WHERE conversation_id = c.id AND sender_role = 'user' AND read_at IS NULL
		) unread ON TRUE
		ORDER BY COALESCE(last.created_at, c.created_at) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Preview, &c.PreviewAt, &c.UnreadCount); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// DeleteConversation removes the thread and all its messages. Deletion is a
// one-shot transition: a second call returns pgx.ErrNoRows.
func (r *ChatRepository) DeleteConversation(ctx context.Context, conversationID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM conversations WHERE id = $1
	`, conversationID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteOlderThan removes messages older than the given number of days.
// Returns the number of deleted rows.
func (r *ChatRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM messages WHERE created_at < NOW() - make_interval(days => $1)
	`, days)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountConversations reports the number of open threads.
func (r *ChatRepository) CountConversations(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n)
	return n, err
}
