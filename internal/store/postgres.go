// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const (
	sqlCreateTable = `
        CREATE TABLE IF NOT EXISTS memory_records (
            id         BIGSERIAL PRIMARY KEY,
            session    TEXT NOT NULL,
            input      TEXT NOT NULL,
            steps      JSONB NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS memory_records_session_idx ON memory_records (session);
    `
	sqlInsertRecord = `
        INSERT INTO memory_records (session, input, steps, created_at)
        VALUES ($1, $2, $3, $4);
    `
	sqlSelectBySession = `
        SELECT session, input, steps, created_at
        FROM memory_records
        WHERE session = $1
        ORDER BY id ASC
        LIMIT 1;
    `
	sqlSelectAll = `
        SELECT session, input, steps, created_at
        FROM memory_records
        ORDER BY id ASC;
    `
)

// PostgresStore keeps the memory log in a PostgreSQL table, one row per record.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgres creates a store and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{
		pool: pool,
		log:  logger.Named("store.postgres"),
	}, nil
}

// Migrate creates the memory table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateTable); err != nil {
		return fmt.Errorf("failed to create memory table: %w", err)
	}
	return nil
}

// Append inserts one record.
func (s *PostgresStore) Append(ctx context.Context, record schemas.MemoryRecord) error {
	steps, err := json.Marshal(nonNilSteps(record.Steps))
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sqlInsertRecord, record.Session, record.Input, steps, record.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to insert memory record: %w", err)
	}
	s.log.Debug("Memory record stored.", zap.String("session", record.Session), zap.Int("steps", len(record.Steps)))
	return nil
}

// Get returns the first record stored for the session.
func (s *PostgresStore) Get(ctx context.Context, session string) (*schemas.MemoryRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, sqlSelectBySession, session))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, schemas.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load memory record: %w", err)
	}
	return rec, nil
}

// List returns every record in insertion order.
func (s *PostgresStore) List(ctx context.Context) ([]schemas.MemoryRecord, error) {
	rows, err := s.pool.Query(ctx, sqlSelectAll)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory records: %w", err)
	}
	defer rows.Close()

	var records []schemas.MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (*schemas.MemoryRecord, error) {
	var (
		rec       schemas.MemoryRecord
		steps     []byte
		createdAt time.Time
	)
	if err := row.Scan(&rec.Session, &rec.Input, &steps, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan memory record: %w", err)
	}
	if err := json.Unmarshal(steps, &rec.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps of session %s: %w", rec.Session, err)
	}
	rec.CreatedAt = createdAt.UTC()
	return &rec, nil
}

func nonNilSteps(steps []schemas.Action) []schemas.Action {
	if steps == nil {
		return []schemas.Action{}
	}
	return steps
}
