package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaani-market/backend/internal/models"
)

// Repository handles conversation and message persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a chat repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetOrCreateConversation returns the conversation between two users,
// creating it if absent. Participant order is normalized so (a,b) and (b,a)
// resolve to the same row.
func (r *Repository) GetOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	if userB < userA {
		userA, userB = userB, userA
	}
	const q = `INSERT INTO conversations (participant_a, participant_b)
		VALUES ($1, $2)
		ON CONFLICT (participant_a, participant_b) DO UPDATE SET participant_a = EXCLUDED.participant_a
		RETURNING id, participant_a, participant_b, last_message_at, created_at`
	var c models.Conversation
	var a, b string
	err := r.pool.QueryRow(ctx, q, userA, userB).Scan(&c.ID, &a, &b, &c.LastMessageAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.ParticipantIDs = []string{a, b}
	return &c, nil
}

// GetConversation returns a conversation by ID, or nil when absent.
func (r *Repository) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	const q = `SELECT id, participant_a, participant_b, last_message_at, created_at
		FROM conversations WHERE id = $1`
	var c models.Conversation
	var a, b string
	err := r.pool.QueryRow(ctx, q, id).Scan(&c.ID, &a, &b, &c.LastMessageAt, &c.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c.ParticipantIDs = []string{a, b}
	return &c, nil
}

// ListConversations returns all conversations for a user, most recent first.
func (r *Repository) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	const q = `SELECT id, participant_a, participant_b, last_message_at, created_at
		FROM conversations WHERE participant_a = $1 OR participant_b = $1
		ORDER BY last_message_at DESC NULLS LAST`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Conversation
	for rows.Next() {
		var c models.Conversation
		var a, b string
		if err := rows.Scan(&c.ID, &a, &b, &c.LastMessageAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.ParticipantIDs = []string{a, b}
		list = append(list, c)
	}
	return list, rows.Err()
}

// CreateMessage inserts a message and bumps the conversation's last_message_at.
func (r *Repository) CreateMessage(ctx context.Context, m *models.ChatMessage) error {
	const q = `INSERT INTO chat_messages (id, conversation_id, sender_id, body, language)
		VALUES (gen_random_uuid(), $1, $2, $3, NULLIF($4,''))
		RETURNING id, sent_at`
	if err := r.pool.QueryRow(ctx, q, m.ConversationID, m.SenderID, m.Body, m.Language).Scan(&m.ID, &m.SentAt); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE conversations SET last_message_at = $1 WHERE id = $2`, m.SentAt, m.ConversationID)
	return err
}

// ListMessages returns messages in a conversation, newest first, with the
// read-by set aggregated per message.
func (r *Repository) ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const q = `SELECT m.id, m.conversation_id, m.sender_id, m.body, COALESCE(m.language,''), m.sent_at,
		COALESCE(ARRAY_AGG(rr.user_id) FILTER (WHERE rr.user_id IS NOT NULL), '{}')
		FROM chat_messages m
		LEFT JOIN read_receipts rr ON rr.message_id = m.id
		WHERE m.conversation_id = $1
		GROUP BY m.id
		ORDER BY m.sent_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.Language, &m.SentAt, &m.ReadBy); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// MarkRead appends userID to the message's read-by set. Repeated marks are
// no-ops (idempotent by primary key).
func (r *Repository) MarkRead(ctx context.Context, messageID uuid.UUID, userID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO read_receipts (message_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		messageID, userID)
	return err
}

// UnreadCount returns the number of messages in the conversation not sent by
// userID and not yet marked read by them.
func (r *Repository) UnreadCount(ctx context.Context, conversationID uuid.UUID, userID string) (int, error) {
	const q = `SELECT COUNT(*) FROM chat_messages m
		WHERE m.conversation_id = $1 AND m.sender_id <> $2
		AND NOT EXISTS (SELECT 1 FROM read_receipts rr WHERE rr.message_id = m.id AND rr.user_id = $2)`
	var n int
	err := r.pool.QueryRow(ctx, q, conversationID, userID).Scan(&n)
	return n, err
}
