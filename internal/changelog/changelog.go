// Package changelog provides the rolling per-channel-failure record the
// spec calls "out of scope to specify in detail" (§7): a bounded SQLite
// table surfaced for later diagnosis without being part of scheduler
// liveness. Grounded on the teacher's use of modernc.org/sqlite for
// embedded, CGO-free storage.
package changelog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one rolling changelog row.
type Entry struct {
	ID        int64
	ChannelID int
	Event     string
	Detail    string
	At        time.Time
}

// Log is a bounded, append-only record of per-channel events (probe
// failures, re-enablement, dead-stream classification) backed by SQLite.
type Log struct {
	db      *sql.DB
	maxRows int
}

const defaultMaxRows = 500

// Open opens (creating if needed) a SQLite-backed changelog at path.
// maxRows <= 0 uses the default bound of 500 rows.
func Open(path string, maxRows int) (*Log, error) {
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("changelog: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS changelog (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id INTEGER NOT NULL,
		event TEXT NOT NULL,
		detail TEXT NOT NULL,
		at DATETIME NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("changelog: create table: %w", err)
	}

	return &Log{db: db, maxRows: maxRows}, nil
}

// Record appends an entry and prunes the oldest rows beyond maxRows.
func (l *Log) Record(ctx context.Context, channelID int, event, detail string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO changelog (channel_id, event, detail, at) VALUES (?, ?, ?, ?)`,
		channelID, event, detail, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("changelog: insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM changelog WHERE id NOT IN (
		SELECT id FROM changelog ORDER BY id DESC LIMIT ?
	)`, l.maxRows); err != nil {
		return fmt.Errorf("changelog: prune: %w", err)
	}

	return tx.Commit()
}

// Recent returns up to limit of the most recent entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, channel_id, event, detail, at FROM changelog ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ChannelID, &e.Event, &e.Detail, &e.At); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ForChannel returns up to limit recent entries for a single channel.
func (l *Log) ForChannel(ctx context.Context, channelID, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, channel_id, event, detail, at FROM changelog WHERE channel_id = ? ORDER BY id DESC LIMIT ?`,
		channelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ChannelID, &e.Event, &e.Detail, &e.At); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database handle.
func (l *Log) Close() error { return l.db.Close() }
