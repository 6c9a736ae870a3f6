package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/config"
)

// Postgres holds the pgx pool used for transactional writes and a sqlx
// handle over the same pool for read-side queries.
type Postgres struct {
	Pool *pgxpool.Pool
	SQL  *sqlx.DB
}

func New(ctx context.Context, cfg config.PostgresConfig) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres connstr: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime

	dbPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := dbPool.Ping(pingCtx); err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", Classify(err))
	}

	log.Info().Str("host", cfg.Host).Str("dbname", cfg.DBName).Msg("Connected to PostgreSQL")

	return &Postgres{
		Pool: dbPool,
		SQL:  sqlx.NewDb(stdlib.OpenDBFromPool(dbPool), "pgx"),
	}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return Classify(p.Pool.Ping(ctx))
}

func (p *Postgres) Close() {
	if p.SQL != nil {
		if err := p.SQL.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close sqlx handle")
		}
	}
	if p.Pool != nil {
		p.Pool.Close()
		log.Info().Msg("Database connection closed")
	}
}
