// Package postgres persists retrieval metadata in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/docfetch/internal/fetch"
)

const defaultTable = "retrievals"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RetrievalStoreConfig controls the connection pool used for retrieval rows.
type RetrievalStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RetrievalStore implements fetch.RetrievalStore.
type RetrievalStore struct {
	pool  execCloser
	table string
}

// NewRetrievalStore connects a pgx pool.
func NewRetrievalStore(ctx context.Context, cfg RetrievalStoreConfig) (*RetrievalStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RetrievalStore{pool: pool, table: table}, nil
}

// NewRetrievalStoreWithPool wraps an existing pool (pgxmock in tests).
func NewRetrievalStoreWithPool(pool execCloser, table string) (*RetrievalStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RetrievalStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the pool.
func (s *RetrievalStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the table and its batch index when missing.
func (s *RetrievalStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id                      UUID PRIMARY KEY,
	batch_id                TEXT NOT NULL DEFAULT '',
	retrieval_timestamp     TIMESTAMPTZ NOT NULL,
	retrieval_url           TEXT NOT NULL,
	final_url               TEXT NOT NULL DEFAULT '',
	ok                      BOOLEAN NOT NULL,
	retrieval_status_code   INTEGER NOT NULL DEFAULT 0,
	retrieval_bytes         BIGINT NOT NULL DEFAULT 0,
	retrieval_hashcode      TEXT NOT NULL DEFAULT '',
	retrieval_blob_location TEXT NOT NULL DEFAULT '',
	retrieval_headers       JSONB NOT NULL DEFAULT '{}'::jsonb,
	retrieval_content_type  TEXT NOT NULL DEFAULT '',
	error_text              TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS %[1]s_batch_idx ON %[1]s (batch_id)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// StoreRetrieval inserts one row.
func (s *RetrievalStore) StoreRetrieval(ctx context.Context, record fetch.RetrievalRecord) error {
	if s == nil || s.pool == nil {
		return errors.New("retrieval store is not configured")
	}
	if record.ID == "" {
		return errors.New("record id is required")
	}
	headersJSON, err := json.Marshal(normalizeHeaders(record.Headers))
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	batch_id,
	retrieval_timestamp,
	retrieval_url,
	final_url,
	ok,
	retrieval_status_code,
	retrieval_bytes,
	retrieval_hashcode,
	retrieval_blob_location,
	retrieval_headers,
	retrieval_content_type,
	error_text
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`, s.table)

	args := []any{
		record.ID,
		record.BatchID,
		record.RetrievedAt,
		record.URL,
		record.FinalURL,
		record.OK,
		record.StatusCode,
		record.Bytes,
		record.Hash,
		record.BlobURI,
		headersJSON,
		record.ContentType,
		record.ErrorText,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert retrieval: %w", err)
	}
	return nil
}

func normalizeHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, values := range h {
		out[k] = append([]string(nil), values...)
	}
	return out
}
