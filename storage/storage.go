package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// Storage provides access to the relational store. The pool carries all CRUD
// traffic; subscription listeners use their own dedicated connections (see the
// stream package) and never draw from this pool.
type Storage struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

// New connects a pool to the given database URL.
func New(ctx context.Context, databaseURL string, maxConns int32, logger *log.Logger) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.ConnConfig.ConnectTimeout = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Storage{pool: pool, logger: logger}, nil
}

// Ping verifies the pool can reach the database.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Storage) Close() {
	s.pool.Close()
}

func wrapErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}

func noRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// uuidStrings converts ids for use with a ::uuid[] bind parameter.
func uuidStrings[T fmt.Stringer](ids []T) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
