package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaani-market/backend/pkg/redis"
)

const (
	onlineKeyPrefix = "presence:online:"
	// onlineTTL bounds staleness if an instance dies without cleaning up.
	// The hub refreshes the key on connect and on every pong; a key left
	// behind by a dead instance simply expires.
	onlineTTL = 90 * time.Second

	opTimeout = 5 * time.Second
)

// Tracker keeps online status in Redis and connection history in Postgres.
// It implements realtime.PresenceListener.
type Tracker struct {
	redis  *redis.Client
	repo   *Repository
	logger *zap.Logger
}

// NewTracker creates a presence tracker. redis may be nil, in which case
// online status degrades to "unknown" and only connection logs are kept.
func NewTracker(rdb *redis.Client, repo *Repository, logger *zap.Logger) *Tracker {
	return &Tracker{redis: rdb, repo: repo, logger: logger}
}

// Connected marks the user online and opens a connection log row.
func (t *Tracker) Connected(userID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if t.redis != nil {
		if err := t.redis.Set(ctx, onlineKeyPrefix+userID.String(), time.Now().UTC().Format(time.RFC3339), onlineTTL).Err(); err != nil {
			t.logger.Warn("presence set failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
	if err := t.repo.LogConnect(ctx, userID); err != nil {
		t.logger.Warn("presence log connect failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// Disconnected clears the online flag and closes the open connection log row.
func (t *Tracker) Disconnected(userID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if t.redis != nil {
		if err := t.redis.Del(ctx, onlineKeyPrefix+userID.String()).Err(); err != nil {
			t.logger.Warn("presence del failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
	if err := t.repo.LogDisconnect(ctx, userID); err != nil {
		t.logger.Warn("presence log disconnect failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// Heartbeat extends the online TTL. Called from the WS ping cycle.
func (t *Tracker) Heartbeat(userID uuid.UUID) {
	if t.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := t.redis.Expire(ctx, onlineKeyPrefix+userID.String(), onlineTTL).Err(); err != nil {
		t.logger.Debug("presence heartbeat failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// IsOnline reports whether the user has a live connection on any instance.
func (t *Tracker) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	if t.redis == nil {
		return false, nil
	}
	n, err := t.redis.Exists(ctx, onlineKeyPrefix+userID.String()).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
