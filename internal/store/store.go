package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
)

// DefaultTable receives extracted rows when no table is configured.
const DefaultTable = "extracted_rows"

var rowColumns = []string{"run_id", "position", "data", "synthetic", "extracted_at"}

const createTableSQL = `
        CREATE TABLE IF NOT EXISTS %s (
            run_id       TEXT        NOT NULL,
            position     INTEGER     NOT NULL,
            data         JSONB       NOT NULL,
            synthetic    BOOLEAN     NOT NULL DEFAULT FALSE,
            extracted_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (run_id, position)
        );
    `

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL sink for extracted rows.
type Store struct {
	pool  DBPool
	table pgx.Identifier
	log   *zap.Logger
	now   func() time.Time
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, table string, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if table == "" {
		table = DefaultTable
	}
	return &Store{
		pool:  pool,
		table: pgx.Identifier{table},
		log:   logger.Named("store"),
		now:   time.Now,
	}, nil
}

// EnsureSchema creates the rows table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(createTableSQL, s.table.Sanitize())); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table.Sanitize(), err)
	}
	return nil
}

// Save copies rows for runID in one transaction, keeping their order in
// the position column.
func (s *Store) Save(ctx context.Context, runID string, rows []schemas.Row) (err error) {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a commit reports ErrTxClosed, possibly wrapped.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	extractedAt := s.now().UTC()
	source := make([][]interface{}, len(rows))
	for i, r := range rows {
		data, err := r.MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to encode row %d: %w", i, err)
		}
		source[i] = []interface{}{runID, i, data, r.IsSynthetic(), extractedAt}
	}

	copyCount, err := tx.CopyFrom(ctx, s.table, rowColumns, pgx.CopyFromRows(source))
	if err != nil {
		return fmt.Errorf("failed to copy rows: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied rows count: expected %d, got %d", len(rows), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Rows stored.", zap.String("run_id", runID), zap.Int("rows", len(rows)))
	return nil
}
