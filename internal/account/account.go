package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pixforge/pixforge/internal/models"
)

// Service errors
var (
	ErrUserNotFound = errors.New("user not found")
)

// Service manages user account lifecycle: accounts are created on first
// sync for a verified subject and deleted on explicit request, cascading to
// owned generation records.
type Service struct {
	db *pgxpool.Pool
}

// NewService creates a new account service
func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

const userColumns = `
	id, subject, email, own_key_ciphertext, own_key_nonce, has_own_key,
	lifetime_generation_count, daily_generation_count, last_generation_at,
	created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Subject, &u.Email, &u.OwnKeyCiphertext, &u.OwnKeyNonce, &u.HasOwnKey,
		&u.LifetimeGenerationCount, &u.DailyGenerationCount, &u.LastGenerationAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// GetBySubject fetches the account for a verified subject identifier
func (s *Service) GetBySubject(ctx context.Context, subject string) (*models.User, error) {
	row := s.db.QueryRow(ctx, `SELECT`+userColumns+` FROM users WHERE subject = $1`, subject)
	return scanUser(row)
}

// GetByID fetches an account by its internal identifier
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := s.db.QueryRow(ctx, `SELECT`+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// Sync creates the account for a subject on first contact, or returns the
// existing one. The email is refreshed from the identity token on every
// sync.
func (s *Service) Sync(ctx context.Context, subject, email string) (*models.User, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (subject, email)
		VALUES ($1, $2)
		ON CONFLICT (subject)
		DO UPDATE SET email = EXCLUDED.email, updated_at = NOW()
		RETURNING`+userColumns, subject, email)
	return scanUser(row)
}

// Delete removes the account; owned generation records are removed by the
// schema cascade
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
