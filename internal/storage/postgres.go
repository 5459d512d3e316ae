package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSPIMCore/internal/config"
)

type PostgresClient struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresClient, error) {
	return Connect(ctx, cfg.DSN(), cfg.MaxConnections, cfg.ConnectTimeout, logger)
}

// Connect opens a pool and pings it with exponential backoff for up to
// timeout.
func Connect(ctx context.Context, dsn string, maxConns int, timeout time.Duration, logger *zap.Logger) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	attempt := 0
	op := func() error {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			logger.Debug("Database not reachable yet", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0.2,
		Multiplier:          2.,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      timeout,
		Clock:               backoff.SystemClock,
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connected", zap.Int("attempts", attempt))
	return &PostgresClient{pool: pool, logger: logger}, nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}

// EnsureSchema creates the run history table.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS acquisition_runs (
			id              UUID PRIMARY KEY,
			command_id      UUID NOT NULL,
			status          TEXT NOT NULL,
			total_acqs      INTEGER NOT NULL DEFAULT 0,
			total_images    INTEGER NOT NULL DEFAULT 0,
			images_acquired INTEGER NOT NULL DEFAULT 0,
			error           TEXT NOT NULL DEFAULT '',
			started_at      TIMESTAMPTZ NOT NULL,
			finished_at     TIMESTAMPTZ
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create acquisition_runs: %w", err)
	}
	return nil
}
