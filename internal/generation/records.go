package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pixforge/pixforge/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrRecordNotFound is returned when a record does not exist or belongs
// to another user
var ErrRecordNotFound = errors.New("generation record not found")

const recordColumns = `id, user_id, prompt, is_edit, temperature, seed, width, height,
	image_url, storage_key, image_data, status, created_at`

func scanRecord(row pgx.Row) (*models.Generation, error) {
	var g models.Generation
	err := row.Scan(
		&g.ID, &g.UserID, &g.Prompt, &g.IsEdit,
		&g.Temperature, &g.Seed, &g.Width, &g.Height,
		&g.ImageURL, &g.StorageKey, &g.ImageData, &g.Status, &g.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to scan generation record: %w", err)
	}
	return &g, nil
}

// ListRecords returns a page of the user's records, newest first. Inline
// image bytes are omitted from listings; GetRecord returns them.
func (s *Service) ListRecords(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Generation, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM generations WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count generation records: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, prompt, is_edit, temperature, seed, width, height,
			image_url, storage_key, NULL::TEXT AS image_data, status, created_at
		FROM generations
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list generation records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.Generation, 0, limit)
	for rows.Next() {
		g, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, g)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read generation records: %w", err)
	}
	return records, total, nil
}

// GetRecord returns one record, scoped to its owner
func (s *Service) GetRecord(ctx context.Context, userID, recordID uuid.UUID) (*models.Generation, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM generations WHERE id = $1 AND user_id = $2`,
		recordID, userID)
	return scanRecord(row)
}

// DeleteRecord removes a record and, best-effort, its stored object
func (s *Service) DeleteRecord(ctx context.Context, userID, recordID uuid.UUID) error {
	record, err := s.GetRecord(ctx, userID, recordID)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx,
		`DELETE FROM generations WHERE id = $1 AND user_id = $2`,
		recordID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete generation record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}

	if s.store != nil && record.StorageKey != nil {
		if err := s.store.Delete(ctx, *record.StorageKey); err != nil {
			log.Warn().Err(err).Str("storage_key", *record.StorageKey).Msg("Failed to delete stored object")
		}
	}
	return nil
}
