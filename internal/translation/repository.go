package translation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaani-market/backend/internal/models"
)

// Repository persists translation logs in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a translation repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertTranslationSQL = `
INSERT INTO translation_logs (id, session_id, source_language, target_language, source_text, translated_text, audio_ref, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
RETURNING created_at`

// SaveTranslation inserts one translation log entry.
func (r *Repository) SaveTranslation(ctx context.Context, log *models.TranslationLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, insertTranslationSQL,
		log.ID, log.SessionID, log.SourceLanguage, log.TargetLanguage,
		log.SourceText, log.TranslatedText, log.AudioRef,
	).Scan(&log.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert translation log: %w", err)
	}
	return nil
}

const listTranslationsSQL = `
SELECT id, session_id, source_language, target_language, source_text, translated_text, audio_ref, created_at
FROM translation_logs
WHERE session_id = $1
ORDER BY created_at ASC`

// ListBySession returns all translation logs for a session, oldest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.TranslationLog, error) {
	rows, err := r.pool.Query(ctx, listTranslationsSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list translation logs: %w", err)
	}
	defer rows.Close()

	var logs []models.TranslationLog
	for rows.Next() {
		var l models.TranslationLog
		if err := rows.Scan(&l.ID, &l.SessionID, &l.SourceLanguage, &l.TargetLanguage,
			&l.SourceText, &l.TranslatedText, &l.AudioRef, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan translation log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
