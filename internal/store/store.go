// Package store is the local sqlite journal of audit receipts. It mirrors
// what the client sent and what the audit service acknowledged so a case's
// chain linkage can be checked offline.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gonkalabs/kpg-client/internal/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS receipts (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    case_id     TEXT NOT NULL,
    epoch       INTEGER NOT NULL,
    event_type  TEXT NOT NULL,
    prev_hash   TEXT NOT NULL,
    hash        TEXT,
    recorded    INTEGER NOT NULL,
    cause       TEXT,
    at_ns       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_receipts_case ON receipts(case_id, id);
`

// Store is the sqlite receipt journal. It implements audit.Journal.
type Store struct {
	db *sql.DB
}

var _ audit.Journal = (*Store)(nil)

// Open opens or creates the journal at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record appends one receipt.
func (s *Store) Record(ctx context.Context, r audit.Receipt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO receipts (case_id, epoch, event_type, prev_hash, hash, recorded, cause, at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CaseID, r.Epoch, string(r.EventType), r.PrevHash, nullable(r.Hash), r.Recorded, nullable(r.Cause), r.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// Receipts returns every receipt of a case in journal order.
func (s *Store) Receipts(ctx context.Context, caseID string) ([]audit.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id, epoch, event_type, prev_hash, hash, recorded, cause, at_ns
		FROM receipts WHERE case_id = ? ORDER BY id`, caseID)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	var out []audit.Receipt
	for rows.Next() {
		var (
			r         audit.Receipt
			eventType string
			hash      sql.NullString
			cause     sql.NullString
			atNs      int64
		)
		if err := rows.Scan(&r.CaseID, &r.Epoch, &eventType, &r.PrevHash, &hash, &r.Recorded, &cause, &atNs); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		r.EventType = audit.EventType(eventType)
		r.Hash = hash.String
		r.Cause = cause.String
		r.At = time.Unix(0, atNs).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Cases lists the case ids present in the journal.
func (s *Store) Cases(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT case_id FROM receipts ORDER BY case_id`)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
