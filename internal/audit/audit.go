// Package audit keeps an append-only log of transaction outcomes, separate
// from the ledger so it can be archived or inspected without touching live
// trading state.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

type Record struct {
	ID         int64           `json:"id"`
	TxnID      string          `json:"txn_id"`
	Kind       string          `json:"kind"`
	Strategy   string          `json:"strategy"`
	Instrument string          `json:"instrument"`
	Status     string          `json:"status"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	Error      string          `json:"error,omitempty"`
	ElapsedMS  int64           `json:"elapsed_ms"`
	CreatedAt  time.Time       `json:"created_at"`
}

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type Log struct {
	mu sync.Mutex
	db *sql.DB
}

func Open(path string) (*Log, error) {
	if path == "" {
		return nil, fmt.Errorf("audit: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Log{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS transaction_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		txn_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		strategy TEXT NOT NULL DEFAULT '',
		instrument TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		detail TEXT,
		error TEXT NOT NULL DEFAULT '',
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("audit: init schema: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_txn_log_created ON transaction_log(created_at)`)
	if err != nil {
		return fmt.Errorf("audit: init index: %w", err)
	}
	return nil
}

// Append writes one record. CreatedAt defaults to now when unset.
func (l *Log) Append(ctx context.Context, rec Record) error {
	if l == nil || l.db == nil {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var detail any
	if len(rec.Detail) > 0 {
		detail = string(rec.Detail)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO transaction_log (txn_id, kind, strategy, instrument, status, detail, error, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TxnID, rec.Kind, rec.Strategy, rec.Instrument, rec.Status,
		detail, rec.Error, rec.ElapsedMS, rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("audit: append %s: %w", rec.TxnID, err)
	}
	return nil
}

// Recent returns the newest records, most recent first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, txn_id, kind, strategy, instrument, status, COALESCE(detail, ''), error, elapsed_ms, created_at
		 FROM transaction_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var detail string
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.TxnID, &rec.Kind, &rec.Strategy, &rec.Instrument,
			&rec.Status, &detail, &rec.Error, &rec.ElapsedMS, &createdAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if detail != "" {
			rec.Detail = json.RawMessage(detail)
		}
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountByStatus tallies all records per status.
func (l *Log) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM transaction_log GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("audit: count: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
