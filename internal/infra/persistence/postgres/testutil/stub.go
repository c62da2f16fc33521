// Package testutil provides a stub database/sql driver that understands the
// state-table statements issued by the postgres store.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// StubRow is one stored state row. Deleted rows are tombstones.
type StubRow struct {
	Payload  []byte
	Revision int64
	Deleted  bool
}

// StubConn records statements and keeps state rows in memory.
type StubConn struct {
	mu          sync.Mutex
	Execs       []string
	State       map[string]StubRow
	FailPing    bool
	FailExec    bool
	FailBuckets map[string]bool
	RowsErr     error
}

var stubSeq atomic.Int64

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{State: make(map[string]StubRow)}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
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
func (c *StubConn) Begin() (driver.Tx, error) { return nil, fmt.Errorf("transactions not supported") }

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// ExecContext implements driver.ExecerContext for the table DDL and the
// tombstone update issued by Delete.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	switch statementVerb(query) {
	case "CREATE":
		return driver.RowsAffected(0), nil
	case "UPDATE":
		values := namedValues(args)
		if len(values) != 2 {
			return nil, fmt.Errorf("tombstone update expects 2 args, got %d", len(values))
		}
		bucket := asString(values[1])
		if err := c.failFor(bucket); err != nil {
			return nil, err
		}
		row, exists := c.State[bucket]
		if !exists || row.Deleted {
			return driver.RowsAffected(0), nil
		}
		c.State[bucket] = StubRow{Payload: asBytes(values[0]), Revision: row.Revision + 1, Deleted: true}
		return driver.RowsAffected(1), nil
	}
	return nil, fmt.Errorf("unsupported statement: %s", query)
}

// QueryContext implements driver.QueryerContext for single-bucket selects and
// for the conditional writes, which return the new revision.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	values := namedValues(args)
	switch statementVerb(query) {
	case "SELECT":
		if len(values) != 1 {
			return nil, fmt.Errorf("select expects 1 arg, got %d", len(values))
		}
		bucket := asString(values[0])
		if err := c.failFor(bucket); err != nil {
			return nil, err
		}
		rows := &stubRows{cols: []string{"payload", "revision"}, err: c.RowsErr}
		if row, ok := c.State[bucket]; ok && !row.Deleted {
			rows.rows = [][]driver.Value{{append([]byte(nil), row.Payload...), row.Revision}}
		}
		return rows, nil
	case "INSERT":
		c.Execs = append(c.Execs, query)
		if len(values) != 2 {
			return nil, fmt.Errorf("insert expects 2 args, got %d", len(values))
		}
		bucket, payload := asString(values[0]), asBytes(values[1])
		if err := c.failFor(bucket); err != nil {
			return nil, err
		}
		row, exists := c.State[bucket]
		if exists && !row.Deleted {
			return revisionRows(), nil
		}
		next := StubRow{Payload: payload, Revision: row.Revision + 1}
		c.State[bucket] = next
		return revisionRows(next.Revision), nil
	case "UPDATE":
		c.Execs = append(c.Execs, query)
		if len(values) != 3 {
			return nil, fmt.Errorf("update expects 3 args, got %d", len(values))
		}
		payload, bucket := asBytes(values[0]), asString(values[1])
		expected, ok := values[2].(int64)
		if !ok {
			return nil, fmt.Errorf("update revision must be int64, got %T", values[2])
		}
		if err := c.failFor(bucket); err != nil {
			return nil, err
		}
		row, exists := c.State[bucket]
		if !exists || row.Deleted || row.Revision != expected {
			return revisionRows(), nil
		}
		c.State[bucket] = StubRow{Payload: payload, Revision: expected + 1}
		return revisionRows(expected + 1), nil
	}
	return nil, fmt.Errorf("unsupported query: %s", query)
}

func revisionRows(revs ...int64) *stubRows {
	rows := &stubRows{cols: []string{"revision"}}
	for _, rev := range revs {
		rows.rows = append(rows.rows, []driver.Value{rev})
	}
	return rows
}

func (c *StubConn) failFor(bucket string) error {
	if c.FailBuckets != nil && c.FailBuckets[bucket] {
		return fmt.Errorf("stub failure for %s", bucket)
	}
	return nil
}

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

func statementVerb(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func namedValues(args []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(args))
	for i, arg := range args {
		out[i] = arg.Value
	}
	return out
}

func asString(v driver.Value) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func asBytes(v driver.Value) []byte {
	switch t := v.(type) {
	case []byte:
		return append([]byte(nil), t...)
	case string:
		return []byte(t)
	default:
		return nil
	}
}
