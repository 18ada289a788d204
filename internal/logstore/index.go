package logstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/glebarez/go-sqlite"
)

// sqliteIndex is the secondary on-disk index of every entry evicted from
// the in-memory ring, backing GET /api/logs/export beyond what the ring
// currently holds. WAL-mode, create-if-missing, JSON-blob-column shape,
// keyed on the log store's own Entry rather than a tamper-evident audit
// record — there is no hash chain here.
type sqliteIndex struct {
	db *sql.DB
}

// ExportQuery narrows a call to query.
type ExportQuery struct {
	Host     string
	Source   Source
	Since    string // RFC3339, inclusive
	Limit    int
}

func openIndex(path string) (*sqliteIndex, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating index dir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite index %s: %w", path, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			id         TEXT PRIMARY KEY,
			ts         TEXT NOT NULL,
			method     TEXT NOT NULL DEFAULT '',
			host       TEXT NOT NULL DEFAULT '',
			path       TEXT NOT NULL DEFAULT '',
			source     TEXT NOT NULL DEFAULT '',
			status     INTEGER NOT NULL DEFAULT 0,
			file_type  TEXT NOT NULL DEFAULT '',
			payload    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_host ON entries(host);
		CREATE INDEX IF NOT EXISTS idx_source ON entries(source);
		CREATE INDEX IF NOT EXISTS idx_ts ON entries(ts);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sqlite schema: %w", err)
	}

	return &sqliteIndex{db: db}, nil
}

// insert records an evicted entry. Failures are logged, never returned —
// the export index is a convenience beyond the ring, not the record of
// truth for serving live traffic.
func (idx *sqliteIndex) insert(e *Entry) {
	payload, err := json.Marshal(e)
	if err != nil {
		slog.Error("logstore: marshalling entry for export index failed", "id", e.ID, "error", err)
		return
	}
	_, err = idx.db.Exec(
		`INSERT OR REPLACE INTO entries (id, ts, method, host, path, source, status, file_type, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"), e.Method, e.Host, e.Path,
		string(e.Source), e.ResponseStatus, e.FileType, string(payload),
	)
	if err != nil {
		slog.Error("logstore: sqlite export index insert failed", "id", e.ID, "error", err)
	}
}

// query returns evicted entries matching q, newest first.
func (idx *sqliteIndex) query(q ExportQuery) ([]*Entry, error) {
	query := "SELECT payload FROM entries WHERE 1=1"
	var args []any

	if q.Host != "" {
		query += " AND host = ?"
		args = append(args, q.Host)
	}
	if q.Source != "" {
		query += " AND source = ?"
		args = append(args, string(q.Source))
	}
	if q.Since != "" {
		query += " AND ts >= ?"
		args = append(args, q.Since)
	}
	query += " ORDER BY ts DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sqlite export index: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning sqlite export row: %w", err)
		}
		var e Entry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			continue
		}
		// search snapshots are unexported and not round-tripped through
		// JSON; recompute them so Filter.Matches still works on archived
		// entries pulled back out of the export index.
		e.requestBodySearch = lowerSnapshot(bodyToSearchText(e.RequestBody))
		e.responseBodySearch = lowerSnapshot(bodyToSearchText(e.ResponseBody))
		e.headerSearch = lowerSnapshot(headersToSearchText(e.RequestHeaders) + " " + headersToSearchText(e.ResponseHeaders))
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (idx *sqliteIndex) close() error {
	return idx.db.Close()
}
