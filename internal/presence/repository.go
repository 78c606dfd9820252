package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles connection_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a presence repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LogConnect inserts a row when a user's first connection arrives.
func (r *Repository) LogConnect(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO connection_logs (user_id, connected_at) VALUES ($1, NOW())`,
		userID)
	return err
}

// LogDisconnect closes the most recent open connection row for the user.
func (r *Repository) LogDisconnect(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE connection_logs c SET disconnected_at = NOW(),
			online_seconds = GREATEST(0, EXTRACT(EPOCH FROM (NOW() - c.connected_at))::BIGINT)
		 FROM (SELECT id FROM connection_logs WHERE user_id = $1 AND disconnected_at IS NULL ORDER BY connected_at DESC LIMIT 1) AS sub
		 WHERE c.id = sub.id`,
		userID)
	return err
}

// LastSeen returns when the user was last connected, or nil if never.
// A currently open connection reports the connect time.
func (r *Repository) LastSeen(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	const q = `SELECT COALESCE(disconnected_at, connected_at) FROM connection_logs
		WHERE user_id = $1 ORDER BY connected_at DESC LIMIT 1`
	var ts time.Time
	err := r.pool.QueryRow(ctx, q, userID).Scan(&ts)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ts, nil
}
