// Package history persists completed task outcomes to a local SQLite
// database, reproducing original_source/history.rs's schema exactly: one
// row per task, most-recent-first via an index on created_at_ms. Driver
// choice (mattn/go-sqlite3) is grounded on other_examples/zkoranges-go-claw's
// blank-import sqlite store pattern and hubenschmidt-asr-llm-tts's local
// persistence layer.
package history

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"typevoice/internal/corerr"
	"typevoice/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	task_id TEXT PRIMARY KEY,
	created_at_ms INTEGER NOT NULL,
	asr_text TEXT NOT NULL,
	final_text TEXT NOT NULL,
	template_id TEXT NULL,
	rtf REAL NOT NULL,
	device_used TEXT NOT NULL,
	preprocess_ms INTEGER NOT NULL,
	asr_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_created_at ON history (created_at_ms DESC);
`

// Store is the SQLite-backed history persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the history database at path and ensures
// its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, corerr.Wrap("E_HISTORY_OPEN_FAILED", "failed to open history database", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, corerr.Wrap("E_HISTORY_SCHEMA_FAILED", "failed to apply history schema", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Append inserts one completed task's outcome. task_id is the primary key,
// so a duplicate append (should never happen under P3's one-task-at-a-time
// invariant) is reported rather than silently upserted.
func (s *Store) Append(item domain.HistoryItem) error {
	var templateID any
	if item.TemplateID != "" {
		templateID = item.TemplateID
	}

	_, err := s.db.Exec(
		`INSERT INTO history (task_id, created_at_ms, asr_text, final_text, template_id, rtf, device_used, preprocess_ms, asr_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.TaskID, item.CreatedAtMs, item.AsrText, item.FinalText, templateID, item.Rtf, item.DeviceUsed, item.PreprocessMs, item.AsrMs,
	)
	if err != nil {
		return corerr.Wrap("E_HISTORY_APPEND_FAILED", "failed to append history row", err)
	}
	return nil
}

// List returns the most recent limit history items, newest first.
func (s *Store) List(limit int) ([]domain.HistoryItem, error) {
	rows, err := s.db.Query(
		`SELECT task_id, created_at_ms, asr_text, final_text, template_id, rtf, device_used, preprocess_ms, asr_ms
		 FROM history ORDER BY created_at_ms DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, corerr.Wrap("E_HISTORY_LIST_FAILED", "failed to list history", err)
	}
	defer rows.Close()

	var items []domain.HistoryItem
	for rows.Next() {
		var item domain.HistoryItem
		var templateID sql.NullString
		if err := rows.Scan(&item.TaskID, &item.CreatedAtMs, &item.AsrText, &item.FinalText, &templateID, &item.Rtf, &item.DeviceUsed, &item.PreprocessMs, &item.AsrMs); err != nil {
			return nil, corerr.Wrap("E_HISTORY_LIST_FAILED", "failed to scan history row", err)
		}
		item.TemplateID = templateID.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, corerr.Wrap("E_HISTORY_LIST_FAILED", "failed to iterate history rows", err)
	}
	return items, nil
}

// Clear deletes every history row.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM history`); err != nil {
		return corerr.Wrap("E_HISTORY_CLEAR_FAILED", "failed to clear history", err)
	}
	return nil
}

// RecentWithin returns history items created within the given window
// ending at nowMs, newest first, capped at limit; used by the context
// collector (C6) to source "last N within 30 minutes."
func (s *Store) RecentWithin(nowMs, windowMs int64, limit int) ([]domain.HistoryItem, error) {
	rows, err := s.db.Query(
		`SELECT task_id, created_at_ms, asr_text, final_text, template_id, rtf, device_used, preprocess_ms, asr_ms
		 FROM history WHERE created_at_ms >= ? ORDER BY created_at_ms DESC LIMIT ?`,
		nowMs-windowMs, limit,
	)
	if err != nil {
		return nil, corerr.Wrap("E_HISTORY_LIST_FAILED", fmt.Sprintf("failed to query recent history since %d", nowMs-windowMs), err)
	}
	defer rows.Close()

	var items []domain.HistoryItem
	for rows.Next() {
		var item domain.HistoryItem
		var templateID sql.NullString
		if err := rows.Scan(&item.TaskID, &item.CreatedAtMs, &item.AsrText, &item.FinalText, &templateID, &item.Rtf, &item.DeviceUsed, &item.PreprocessMs, &item.AsrMs); err != nil {
			return nil, corerr.Wrap("E_HISTORY_LIST_FAILED", "failed to scan history row", err)
		}
		item.TemplateID = templateID.String
		items = append(items, item)
	}
	return items, rows.Err()
}
