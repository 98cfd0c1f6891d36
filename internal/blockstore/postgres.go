package blockstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/objectfs/cachemgr/pkg/retry"
)

// PostgresConfig represents PostgreSQL block store configuration
type PostgresConfig struct {
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
	MaxConns   int32  `yaml:"max_conns"`
	// ConnectAttempts bounds the pings made while opening; 0 uses the retry default
	ConnectAttempts int `yaml:"connect_attempts"`
}

// PostgresOpener opens a collection stored in PostgreSQL. All collections
// share the cachemgr_blocks table; listing follows insertion order.
type PostgresOpener struct {
	cfg    PostgresConfig
	logger *slog.Logger

	mu         sync.Mutex
	collection *postgresCollection
	closed     bool
}

// NewPostgresOpener creates an opener. No connection is made until Open.
func NewPostgresOpener(cfg PostgresConfig) (*PostgresOpener, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}
	return &PostgresOpener{
		cfg:    cfg,
		logger: slog.Default().With("component", "postgres-blockstore", "collection", cfg.Collection),
	}, nil
}

// Open connects, creates the schema if needed and checks its version
func (o *PostgresOpener) Open(ctx context.Context) (Collection, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, ErrClosed
	}
	if o.collection != nil {
		return o.collection, nil
	}

	poolCfg, err := pgxpool.ParseConfig(o.cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	if o.cfg.MaxConns > 0 {
		poolCfg.MaxConns = o.cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	c := &postgresCollection{pool: pool, name: o.cfg.Collection}

	retryer := retry.New(retry.Config{
		MaxAttempts: o.cfg.ConnectAttempts,
		Jitter:      true,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			o.logger.Warn("Postgres not reachable, retrying", "attempt", attempt, "delay", delay, "error", err)
		},
	})
	if err := retryer.Do(ctx, pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := c.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	o.collection = c
	o.logger.Info("Postgres block store opened", "schema_version", SchemaVersion)
	return c, nil
}

// Close releases the connection pool
func (o *PostgresOpener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	if o.collection != nil {
		o.collection.pool.Close()
		o.collection = nil
	}
	return nil
}

type postgresCollection struct {
	pool *pgxpool.Pool
	name string
}

func (c *postgresCollection) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cachemgr_schema (
			collection TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS cachemgr_blocks (
			collection TEXT NOT NULL,
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			seq BIGSERIAL,
			payload BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, namespace, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cachemgr_blocks_seq ON cachemgr_blocks(collection, namespace, seq)`,
	}

	for _, stmt := range stmts {
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	if _, err := c.pool.Exec(ctx,
		`INSERT INTO cachemgr_schema (collection, version) VALUES ($1, $2) ON CONFLICT (collection) DO NOTHING`,
		c.name, SchemaVersion,
	); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	var version int
	if err := c.pool.QueryRow(ctx,
		`SELECT version FROM cachemgr_schema WHERE collection = $1`, c.name,
	).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > SchemaVersion {
		return fmt.Errorf("%w: store has version %d, supported %d", ErrSchemaMismatch, version, SchemaVersion)
	}
	return nil
}

func (c *postgresCollection) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	var payload []byte
	err := c.pool.QueryRow(ctx,
		`SELECT payload FROM cachemgr_blocks WHERE collection = $1 AND namespace = $2 AND key = $3`,
		c.name, namespace, key,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get block: %w", err)
	}
	return payload, true, nil
}

func (c *postgresCollection) Put(ctx context.Context, namespace, key string, payload []byte) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO cachemgr_blocks (collection, namespace, key, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection, namespace, key) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = NOW()
	`, c.name, namespace, key, payload)
	if err != nil {
		return fmt.Errorf("put block: %w", err)
	}
	return nil
}

func (c *postgresCollection) Delete(ctx context.Context, namespace, key string) (bool, error) {
	tag, err := c.pool.Exec(ctx,
		`DELETE FROM cachemgr_blocks WHERE collection = $1 AND namespace = $2 AND key = $3`,
		c.name, namespace, key,
	)
	if err != nil {
		return false, fmt.Errorf("delete block: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (c *postgresCollection) DeleteAll(ctx context.Context, namespace string) error {
	_, err := c.pool.Exec(ctx,
		`DELETE FROM cachemgr_blocks WHERE collection = $1 AND namespace = $2`,
		c.name, namespace,
	)
	if err != nil {
		return fmt.Errorf("delete blocks: %w", err)
	}
	return nil
}

func (c *postgresCollection) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	err := c.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM cachemgr_blocks WHERE collection = $1 AND namespace = $2`,
		c.name, namespace,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count blocks: %w", err)
	}
	return n, nil
}

func (c *postgresCollection) List(ctx context.Context, namespace string) ([]Record, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT key, payload FROM cachemgr_blocks WHERE collection = $1 AND namespace = $2 ORDER BY seq`,
		c.name, namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Payload); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	return records, nil
}
