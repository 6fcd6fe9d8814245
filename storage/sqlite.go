package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// ErrPathRequired is returned when a file-backed store is opened without a path.
var ErrPathRequired = errors.New("storage: path required")

const defaultFilePragmas = "mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// FileDSN converts a filesystem path into an on-disk SQLite DSN.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	if strings.HasPrefix(trimmed, "file:") || trimmed == ":memory:" {
		return trimmed, nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve storage path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// SQLiteDB implements Database on a single SQLite table and additionally keeps
// the webhook audit log.
type SQLiteDB struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database behind dsn. Plain paths are
// converted with FileDSN; "file:" DSNs are used verbatim.
func OpenSQLite(dsn string) (*SQLiteDB, error) {
	resolved, err := FileDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", resolved)
	if err != nil {
		return nil, err
	}
	// One connection keeps writers serialised and makes in-memory DSNs behave
	// like a single database.
	db.SetMaxOpenConns(1)
	store := &SQLiteDB{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteDB) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
            key BLOB PRIMARY KEY,
            value BLOB NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS audit_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            occurred_at INTEGER NOT NULL,
            method TEXT NOT NULL,
            path TEXT NOT NULL,
            rpc_method TEXT,
            request_body BLOB,
            response_status INTEGER,
            response_body BLOB
        );`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteDB) Put(key []byte, value []byte) error {
	const stmt = `INSERT OR REPLACE INTO kv(key, value) VALUES (?, ?)`
	_, err := s.db.Exec(stmt, key, value)
	return err
}

func (s *SQLiteDB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *SQLiteDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	var (
		rows *sql.Rows
		err  error
	)
	start, limit := prefixRange(prefix)
	switch {
	case start == nil:
		rows, err = s.db.Query(`SELECT key, value FROM kv ORDER BY key`)
	case limit == nil:
		rows, err = s.db.Query(`SELECT key, value FROM kv WHERE key >= ? ORDER BY key`, start)
	default:
		rows, err = s.db.Query(`SELECT key, value FROM kv WHERE key >= ? AND key < ? ORDER BY key`, start, limit)
	}
	if err != nil {
		return err
	}
	type pair struct{ key, value []byte }
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.key, &p.value); err != nil {
			_ = rows.Close()
			return err
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	// Rows are drained before the callback runs so fn may use the database.
	for _, p := range pairs {
		if err := fn(p.key, p.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteDB) Write(batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, op := range batch.ops {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO kv(key, value) VALUES (?, ?)`, op.key, op.value); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteDB) Close() error { return s.db.Close() }

// AuditEntry captures a webhook request/response pair.
type AuditEntry struct {
	Method         string
	Path           string
	RPCMethod      string
	RequestBody    []byte
	ResponseStatus int
	ResponseBody   []byte
	Timestamp      time.Time
}

func (s *SQLiteDB) InsertAudit(ctx context.Context, entry AuditEntry) error {
	const stmt = `INSERT INTO audit_log(occurred_at, method, path, rpc_method, request_body, response_status, response_body) VALUES (?, ?, ?, ?, ?, ?, ?)`
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, stmt, ts.UnixMilli(), entry.Method, entry.Path, entry.RPCMethod, entry.RequestBody, entry.ResponseStatus, entry.ResponseBody)
	return err
}

// RecentAudit returns up to limit entries, newest first.
func (s *SQLiteDB) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT occurred_at, method, path, COALESCE(rpc_method, ''), request_body, COALESCE(response_status, 0), response_body
        FROM audit_log ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []AuditEntry
	for rows.Next() {
		var (
			entry      AuditEntry
			occurredMs int64
		)
		if err := rows.Scan(&occurredMs, &entry.Method, &entry.Path, &entry.RPCMethod, &entry.RequestBody, &entry.ResponseStatus, &entry.ResponseBody); err != nil {
			return nil, err
		}
		entry.Timestamp = time.UnixMilli(occurredMs).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// prefixRange mirrors goleveldb's util.BytesPrefix: limit is the smallest key
// greater than every key carrying prefix, or nil when unbounded.
func prefixRange(prefix []byte) (start, limit []byte) {
	if len(prefix) == 0 {
		return nil, nil
	}
	start = clone(prefix)
	for i := len(prefix) - 1; i >= 0; i-- {
		c := prefix[i]
		if c < 0xff {
			limit = make([]byte, i+1)
			copy(limit, prefix)
			limit[i] = c + 1
			break
		}
	}
	return start, limit
}
