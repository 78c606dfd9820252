package calls

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaani-market/backend/internal/models"
)

// Repository persists archived call records in Postgres. It implements
// Archiver for the session registry and serves call history queries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a call record repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertCallRecordSQL = `
INSERT INTO call_records (id, caller_id, callee_id, call_kind, translation_enabled, final_state, fail_reason, started_at, ended_at, duration_seconds, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
ON CONFLICT (id) DO NOTHING`

// Archive inserts the terminal session record. Idempotent on session ID.
func (r *Repository) Archive(ctx context.Context, rec *models.CallRecord) error {
	_, err := r.pool.Exec(ctx, insertCallRecordSQL,
		rec.ID, rec.CallerID, rec.CalleeID, rec.Kind, rec.TranslationEnabled,
		rec.FinalState, rec.FailReason, rec.StartedAt, rec.EndedAt, rec.DurationSeconds)
	if err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

const getCallRecordSQL = `
SELECT id, caller_id, callee_id, call_kind, translation_enabled, final_state, fail_reason, started_at, ended_at, duration_seconds, created_at
FROM call_records
WHERE id = $1`

// GetRecord returns one archived call, or nil when it does not exist.
func (r *Repository) GetRecord(ctx context.Context, id uuid.UUID) (*models.CallRecord, error) {
	var rec models.CallRecord
	err := r.pool.QueryRow(ctx, getCallRecordSQL, id).Scan(
		&rec.ID, &rec.CallerID, &rec.CalleeID, &rec.Kind, &rec.TranslationEnabled,
		&rec.FinalState, &rec.FailReason, &rec.StartedAt, &rec.EndedAt,
		&rec.DurationSeconds, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get call record: %w", err)
	}
	return &rec, nil
}

const listCallRecordsSQL = `
SELECT id, caller_id, callee_id, call_kind, translation_enabled, final_state, fail_reason, started_at, ended_at, duration_seconds, created_at
FROM call_records
WHERE caller_id = $1 OR callee_id = $1
ORDER BY started_at DESC
LIMIT $2 OFFSET $3`

// ListByUser returns the user's call history, most recent first.
func (r *Repository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.CallRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, listCallRecordsSQL, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list call records: %w", err)
	}
	defer rows.Close()

	var records []models.CallRecord
	for rows.Next() {
		var rec models.CallRecord
		if err := rows.Scan(&rec.ID, &rec.CallerID, &rec.CalleeID, &rec.Kind,
			&rec.TranslationEnabled, &rec.FinalState, &rec.FailReason,
			&rec.StartedAt, &rec.EndedAt, &rec.DurationSeconds, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
