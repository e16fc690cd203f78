// Package postgres provides the remote document store on Postgres, keeping
// every collection in one JSONB table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"fishlog/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.DocumentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with the config defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/fishlog?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_data_gin ON documents USING GIN (data jsonb_path_ops)`,
}

const selectDocuments = `SELECT id, data, created_at, updated_at FROM documents WHERE collection = $1 AND data @> $2::jsonb ORDER BY created_at, id`

// Store is a DocumentStore over a Postgres documents table.
type Store struct {
	db    *sql.DB
	newID func() string
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN)
// and ensures the documents table exists.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db, newID: uuid.NewString}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func applySchema(ctx context.Context, db execer) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// FindOne returns the oldest document whose field equals value. Dotted field
// names address nested objects.
func (s *Store) FindOne(ctx context.Context, collection, field string, value any) (domain.Document, bool, error) {
	docs, err := s.query(ctx, collection, domain.Filter{field: value}, selectDocuments+` LIMIT 1`)
	if err != nil {
		return domain.Document{}, false, err
	}
	if len(docs) == 0 {
		return domain.Document{}, false, nil
	}
	return docs[0], true, nil
}

// FetchAll returns every document in collection matching filter, oldest first.
func (s *Store) FetchAll(ctx context.Context, collection string, filter domain.Filter) ([]domain.Document, error) {
	return s.query(ctx, collection, filter, selectDocuments)
}

func (s *Store) query(ctx context.Context, collection string, filter domain.Filter, query string) ([]domain.Document, error) {
	containment, err := containmentJSON(filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, collection, containment)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Document
	for rows.Next() {
		var (
			doc  domain.Document
			data []byte
		)
		if err := rows.Scan(&doc.ID, &data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		doc.Data = json.RawMessage(data)
		doc.CreatedAt = doc.CreatedAt.UTC()
		doc.UpdatedAt = doc.UpdatedAt.UTC()
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return out, nil
}

// Create inserts data under a generated id. Timestamps come from the database clock.
func (s *Store) Create(ctx context.Context, collection string, data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	if !isObject(raw) {
		return "", errors.New("document must be a JSON object")
	}
	id := s.newID()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO documents(collection, id, data, created_at, updated_at) VALUES($1, $2, $3::jsonb, now(), now())`,
		collection, id, string(raw)); err != nil {
		return "", fmt.Errorf("insert %s: %w", collection, err)
	}
	return id, nil
}

// Update merges fields into the top level of an existing document.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET data = data || $3::jsonb, updated_at = now() WHERE collection = $1 AND id = $2`,
		collection, id, string(raw))
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, domain.ErrDocumentNotFound)
	}
	return nil
}

// containmentJSON expands a filter into the JSONB object used with @>.
// "a.b": v becomes {"a":{"b":v}}.
func containmentJSON(filter domain.Filter) (string, error) {
	root := map[string]any{}
	for path, value := range filter {
		parts := strings.Split(path, ".")
		node := root
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	raw, err := json.Marshal(root)
	if err != nil {
		return "", fmt.Errorf("encode filter: %w", err)
	}
	return string(raw), nil
}

func isObject(raw []byte) bool {
	var probe map[string]json.RawMessage
	return json.Unmarshal(raw, &probe) == nil && probe != nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

// OverrideIDGenerator replaces the document id generator on s, for tests.
func (s *Store) OverrideIDGenerator(fn func() string) {
	if fn != nil {
		s.newID = fn
	}
}
