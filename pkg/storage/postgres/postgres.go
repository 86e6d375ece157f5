// Package postgres provides a PostgreSQL implementation of storage.Store.
// It uses pgx/v5 for connection pooling.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polygate/polygate/pkg/storage"
)

// Store is a PostgreSQL-backed exchange store.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.ConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// SaveExchange persists a completed exchange.
func (s *Store) SaveExchange(ctx context.Context, ex *storage.Exchange) error {
	tenantID := storage.GetTenant(ctx)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO exchanges (
			id, tenant_id, vendor, model, provider,
			prompt, completion,
			input_tokens, output_tokens, streamed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		ex.ID, tenantID, ex.Vendor, ex.Model, ex.Provider,
		ex.Prompt, ex.Completion,
		ex.InputTokens, ex.OutputTokens, ex.Streamed, ex.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting exchange: %w", err)
	}
	return nil
}

// GetExchange retrieves an exchange by ID, scoped by tenant when one is
// present in the context.
func (s *Store) GetExchange(ctx context.Context, id string) (*storage.Exchange, error) {
	tenantID := storage.GetTenant(ctx)

	query := `
		SELECT id, vendor, model, provider, prompt, completion,
		       input_tokens, output_tokens, streamed, created_at
		FROM exchanges
		WHERE id = $1
	`
	args := []any{id}
	if tenantID != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	var ex storage.Exchange
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&ex.ID, &ex.Vendor, &ex.Model, &ex.Provider, &ex.Prompt, &ex.Completion,
		&ex.InputTokens, &ex.OutputTokens, &ex.Streamed, &ex.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying exchange: %w", err)
	}
	return &ex, nil
}

// ListExchanges returns exchanges newest first.
func (s *Store) ListExchanges(ctx context.Context, opts storage.ListOptions) ([]*storage.Exchange, error) {
	tenantID := storage.GetTenant(ctx)

	query := `
		SELECT id, vendor, model, provider, prompt, completion,
		       input_tokens, output_tokens, streamed, created_at
		FROM exchanges
		WHERE 1=1
	`
	var args []any
	argIdx := 1

	if tenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, tenantID)
		argIdx++
	}
	if opts.Model != "" {
		query += fmt.Sprintf(" AND model = $%d", argIdx)
		args = append(args, opts.Model)
		argIdx++
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying exchanges: %w", err)
	}
	defer rows.Close()

	var out []*storage.Exchange
	for rows.Next() {
		var ex storage.Exchange
		if err := rows.Scan(
			&ex.ID, &ex.Vendor, &ex.Model, &ex.Provider, &ex.Prompt, &ex.Completion,
			&ex.InputTokens, &ex.OutputTokens, &ex.Streamed, &ex.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}
		out = append(out, &ex)
	}
	return out, rows.Err()
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
