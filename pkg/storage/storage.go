// Package storage persists a node's message log so a restarted node can
// reconcile with its neighbors instead of starting from an empty cache.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Log is the SQLite-backed persistence adapter. It stores a flat
// key/value log keyed by message ID, with the message's topic and a
// last-seen timestamp (PrefixKeys orders by it; Reconcile compares keys
// only).
type Log struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite-backed Log at path, in
// WAL mode with a bounded busy timeout so concurrent readers never
// block the scheduler's single writer goroutine indefinitely.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS message_log (
	msg_id     TEXT PRIMARY KEY,
	topic      TEXT NOT NULL,
	payload    BLOB NOT NULL,
	seen_at    INTEGER NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create message_log table: %w", err)
	}

	return &Log{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Insert records msgID under topic with the given payload, upserting
// the seen_at timestamp on conflict so a retransmitted message doesn't
// duplicate a row.
func (l *Log) Insert(msgID, topic string, payload []byte) error {
	_, err := l.db.Exec(`
INSERT INTO message_log (msg_id, topic, payload, seen_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(msg_id) DO UPDATE SET seen_at = excluded.seen_at`,
		msgID, topic, payload, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msgID, err)
	}
	return nil
}

// Get returns the payload stored for msgID, or (nil, false) if absent.
func (l *Log) Get(msgID string) ([]byte, bool, error) {
	var payload []byte
	err := l.db.QueryRow(`SELECT payload FROM message_log WHERE msg_id = ?`, msgID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get message %s: %w", msgID, err)
	}
	return payload, true, nil
}

// PrefixKeys returns every msg_id that begins with prefix, bounded by
// limit.
func (l *Log) PrefixKeys(prefix string, limit int) ([]string, error) {
	rows, err := l.db.Query(
		`SELECT msg_id FROM message_log WHERE msg_id LIKE ? ESCAPE '\' ORDER BY seen_at DESC LIMIT ?`,
		escapeLike(prefix)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("prefix query %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan prefix row: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// AllKeys returns every msg_id currently stored, used for
// reconciliation against a neighbor's key set.
func (l *Log) AllKeys() ([]string, error) {
	rows, err := l.db.Query(`SELECT msg_id FROM message_log`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key row: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Reconcile compares neighborKeys against this log's own keys and
// returns the IDs the neighbor is missing, so the caller can push them
// (a storage-level analog of the mesh's IHave/IWant exchange).
func (l *Log) Reconcile(neighborKeys []string) ([]string, error) {
	have, err := l.AllKeys()
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	known := make(map[string]struct{}, len(neighborKeys))
	for _, k := range neighborKeys {
		known[k] = struct{}{}
	}

	var missing []string
	for _, k := range have {
		if _, ok := known[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing, nil
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '%', '_':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
