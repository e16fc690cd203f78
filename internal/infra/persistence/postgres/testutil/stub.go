// Package testutil provides a stub database/sql driver that understands the
// statements issued by the postgres document store.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var registered atomic.Int64

// Row is one stored document in the stub documents table.
type Row struct {
	Collection string
	ID         string
	Data       []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StubConn records statements and keeps documents in memory.
type StubConn struct {
	mu         sync.Mutex
	Execs      []string
	Queries    []string
	QueryArgs  [][]any
	Rows       []Row
	Now        func() time.Time
	FailPing   bool
	FailExec   bool
	FailQuery  bool
	RowsErr    error
	FailCommit bool
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Now: func() time.Time { return time.Now().UTC() }}
	name := fmt.Sprintf("stubpg%d_%d", time.Now().UnixNano(), registered.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Snapshot returns a copy of the stored rows.
func (c *StubConn) Snapshot() []Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Row(nil), c.Rows...)
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return &stubTx{conn: c}, nil
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "INSERT INTO DOCUMENTS"):
		if len(args) != 3 {
			return nil, fmt.Errorf("insert expects 3 args, got %d", len(args))
		}
		now := c.Now()
		c.Rows = append(c.Rows, Row{
			Collection: asString(args[0].Value),
			ID:         asString(args[1].Value),
			Data:       []byte(asString(args[2].Value)),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(upper, "UPDATE DOCUMENTS"):
		if len(args) != 3 {
			return nil, fmt.Errorf("update expects 3 args, got %d", len(args))
		}
		collection, id := asString(args[0].Value), asString(args[1].Value)
		for i := range c.Rows {
			if c.Rows[i].Collection != collection || c.Rows[i].ID != id {
				continue
			}
			merged, err := mergeObjects(c.Rows[i].Data, []byte(asString(args[2].Value)))
			if err != nil {
				return nil, err
			}
			c.Rows[i].Data = merged
			c.Rows[i].UpdatedAt = c.Now()
			return driver.RowsAffected(1), nil
		}
		return driver.RowsAffected(0), nil
	}
	return driver.RowsAffected(0), nil
}

// QueryContext implements driver.QueryerContext for the documents select.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Queries = append(c.Queries, query)
	plain := make([]any, len(args))
	for i, a := range args {
		plain[i] = a.Value
	}
	c.QueryArgs = append(c.QueryArgs, plain)
	if c.FailQuery {
		return nil, fmt.Errorf("query fail")
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("select expects 2 args, got %d", len(args))
	}
	collection := asString(args[0].Value)
	var filter any
	if err := json.Unmarshal([]byte(asString(args[1].Value)), &filter); err != nil {
		return nil, fmt.Errorf("decode filter: %w", err)
	}
	limit := -1
	if strings.Contains(strings.ToUpper(query), "LIMIT 1") {
		limit = 1
	}
	out := &stubRows{cols: []string{"id", "data", "created_at", "updated_at"}, err: c.RowsErr}
	for _, row := range c.Rows {
		if row.Collection != collection {
			continue
		}
		var doc any
		if err := json.Unmarshal(row.Data, &doc); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		if !contains(doc, filter) {
			continue
		}
		out.rows = append(out.rows, []driver.Value{row.ID, append([]byte(nil), row.Data...), row.CreatedAt, row.UpdatedAt})
		if limit > 0 && len(out.rows) == limit {
			break
		}
	}
	return out, nil
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	return nil
}
func (t *stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

// contains mirrors JSONB @> for objects and scalars.
func contains(doc, want any) bool {
	switch w := want.(type) {
	case map[string]any:
		d, ok := doc.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range w {
			dv, ok := d[k]
			if !ok || !contains(dv, v) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(doc, want)
	}
}

func mergeObjects(base, patch []byte) ([]byte, error) {
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, fmt.Errorf("decode base: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func asString(v driver.Value) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}
