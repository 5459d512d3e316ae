package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrRunNotFound = errors.New("run not found")

const defaultRunLimit = 50

func (p *PostgresClient) CreateRun(ctx context.Context, run *RunRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO acquisition_runs (id, command_id, status, total_acqs, total_images, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, run.ID, run.CommandID, run.Status, run.TotalAcqs, run.TotalImages, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (p *PostgresClient) FinishRun(ctx context.Context, id uuid.UUID, status string, imagesAcquired int, runErr string, finishedAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE acquisition_runs
		SET status = $2, images_acquired = $3, error = $4, finished_at = $5
		WHERE id = $1
	`, id, status, imagesAcquired, runErr, finishedAt)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// ListRuns returns the newest runs first.
func (p *PostgresClient) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, command_id, status, total_acqs, total_images, images_acquired, error, started_at, finished_at
		FROM acquisition_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, scanRun)
	if err != nil {
		return nil, fmt.Errorf("failed to scan runs: %w", err)
	}
	return runs, nil
}

func (p *PostgresClient) GetRun(ctx context.Context, id uuid.UUID) (*RunRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, command_id, status, total_acqs, total_images, images_acquired, error, started_at, finished_at
		FROM acquisition_runs
		WHERE id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	run, err := pgx.CollectExactlyOneRow(rows, scanRun)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	return &run, nil
}

func scanRun(row pgx.CollectableRow) (RunRecord, error) {
	var r RunRecord
	err := row.Scan(
		&r.ID,
		&r.CommandID,
		&r.Status,
		&r.TotalAcqs,
		&r.TotalImages,
		&r.ImagesAcquired,
		&r.Error,
		&r.StartedAt,
		&r.FinishedAt,
	)
	return r, err
}
