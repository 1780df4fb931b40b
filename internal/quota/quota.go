package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pixforge/pixforge/internal/config"
	"github.com/pixforge/pixforge/internal/models"
)

// Ledger is the behavioral contract over the per-user daily counter and its
// generation timestamp. A stored counter is lazily stale: between days it
// keeps its old value and only the timestamp comparison decides whether it
// still applies.
type Ledger struct {
	db    *pgxpool.Pool
	limit int
	loc   *time.Location
}

// NewLedger creates a quota ledger using the configured daily limit and
// reference timezone for the day boundary
func NewLedger(db *pgxpool.Pool, cfg *config.QuotaConfig) (*Ledger, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid quota timezone %q: %w", cfg.Timezone, err)
	}
	return &Ledger{db: db, limit: cfg.DailyLimit, loc: loc}, nil
}

// DailyLimit returns the configured free-tier daily limit
func (l *Ledger) DailyLimit() int {
	return l.limit
}

// DayStart returns midnight of t's calendar day in the reference timezone
func (l *Ledger) DayStart(t time.Time) time.Time {
	local := t.In(l.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, l.loc)
}

// EffectiveDailyCount is the stored counter when the last generation falls
// on today (FreshToday), 0 otherwise (StaleOrNone)
func (l *Ledger) EffectiveDailyCount(user *models.User, now time.Time) int {
	if user.LastGenerationAt == nil {
		return 0
	}
	if user.LastGenerationAt.Before(l.DayStart(now)) {
		return 0
	}
	return user.DailyGenerationCount
}

// CheckAllowed reports whether the user may generate right now. Users with
// an own credential are always allowed and never counted.
func (l *Ledger) CheckAllowed(user *models.User, now time.Time) bool {
	if user.HasOwnKey {
		return true
	}
	return l.EffectiveDailyCount(user, now) < l.limit
}

// Remaining returns how many free-tier generations the user has left today
func (l *Ledger) Remaining(user *models.User, now time.Time) int {
	remaining := l.limit - l.EffectiveDailyCount(user, now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Increment records a successful shared-credential generation: on a fresh
// day the counter rolls over to 1, otherwise it advances by one. The
// lifetime counter always advances. A single conditional UPDATE keeps the
// stored row consistent under concurrent requests.
func (l *Ledger) Increment(ctx context.Context, userID uuid.UUID, now time.Time) error {
	_, err := l.db.Exec(ctx, `
		UPDATE users
		SET daily_generation_count = CASE
				WHEN last_generation_at >= $2 THEN daily_generation_count + 1
				ELSE 1
			END,
			last_generation_at = $3,
			lifetime_generation_count = lifetime_generation_count + 1,
			updated_at = NOW()
		WHERE id = $1
	`, userID, l.DayStart(now), now)
	if err != nil {
		return fmt.Errorf("failed to increment quota: %w", err)
	}
	return nil
}

// IncrementLifetime records a successful own-credential generation. Daily
// state is untouched so a stale shared-tier count stays stale.
func (l *Ledger) IncrementLifetime(ctx context.Context, userID uuid.UUID) error {
	_, err := l.db.Exec(ctx, `
		UPDATE users
		SET lifetime_generation_count = lifetime_generation_count + 1,
			updated_at = NOW()
		WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to increment lifetime count: %w", err)
	}
	return nil
}

// ResetAll zeroes the daily counter and clears the generation date for all
// users without an own credential. Idempotent: a second run on the same day
// re-zeroes already-zero counters.
func (l *Ledger) ResetAll(ctx context.Context) (int64, error) {
	result, err := l.db.Exec(ctx, `
		UPDATE users
		SET daily_generation_count = 0,
			last_generation_at = NULL,
			updated_at = NOW()
		WHERE has_own_key = FALSE
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset quotas: %w", err)
	}
	return result.RowsAffected(), nil
}
