// Package database owns the PostgreSQL connection pool.
package database

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"benefits-portal/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// Pool is the query surface handlers and stores use. *pgxpool.Pool
// satisfies it, and so does pgxmock in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service is what handlers and stores need from the database.
type Service interface {
	GetPool() Pool
	Health() map[string]string
	Migrate(ctx context.Context) error
	Close()
}

type service struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and verifies the connection with a ping.
func New(ctx context.Context, cfg *config.DBConfig) (Service, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logrus.WithField("max_conns", poolCfg.MaxConns).Info("connected to PostgreSQL")
	return &service{pool: pool}, nil
}

func (s *service) GetPool() Pool { return s.pool }

// Health pings the database and reports pool statistics.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stats := map[string]string{}
	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = err.Error()
		return stats
	}

	st := s.pool.Stat()
	stats["status"] = "up"
	stats["total_conns"] = fmt.Sprint(st.TotalConns())
	stats["idle_conns"] = fmt.Sprint(st.IdleConns())
	stats["acquired_conns"] = fmt.Sprint(st.AcquiredConns())
	return stats
}

// Migrate applies the embedded bootstrap schema. Every statement is idempotent.
func (s *service) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *service) Close() {
	s.pool.Close()
}
