// Package sqlite stores channel contexts in a single SQLite database file
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/chimein/internal/store"
)

//go:embed schema.sql
var schema string

// SQLiteContextStore implements store.ContextStore on one SQLite file.
type SQLiteContextStore struct {
	db *sql.DB
}

// Open opens (and creates if missing) the database at path and applies the schema.
func Open(path string) (*SQLiteContextStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteContextStore{db: db}, nil
}

func (s *SQLiteContextStore) Load(ctx context.Context, channelID string) (*store.ContextRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT channel_id, summary, mood, topic_keywords, active_users, last_updated, message_count_since_update
		 FROM channel_contexts WHERE channel_id = ?`, channelID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load context %s: %w", channelID, err)
	}
	return rec, nil
}

func (s *SQLiteContextStore) Save(ctx context.Context, rec store.ContextRecord) error {
	if rec.ChannelID == "" {
		return os.ErrInvalid
	}
	topics, err := encodeList(rec.TopicKeywords)
	if err != nil {
		return err
	}
	users, err := encodeList(rec.ActiveUsers)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO channel_contexts
		   (channel_id, summary, mood, topic_keywords, active_users, last_updated, message_count_since_update)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(channel_id) DO UPDATE SET
		   summary = excluded.summary,
		   mood = excluded.mood,
		   topic_keywords = excluded.topic_keywords,
		   active_users = excluded.active_users,
		   last_updated = excluded.last_updated,
		   message_count_since_update = excluded.message_count_since_update`,
		rec.ChannelID, rec.Summary, rec.Mood, topics, users, rec.LastUpdated, rec.MessageCountSinceUpdate,
	)
	if err != nil {
		return fmt.Errorf("save context %s: %w", rec.ChannelID, err)
	}
	return nil
}

func (s *SQLiteContextStore) List(ctx context.Context) ([]store.ContextRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, summary, mood, topic_keywords, active_users, last_updated, message_count_since_update
		 FROM channel_contexts ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var out []store.ContextRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLiteContextStore) Delete(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM channel_contexts WHERE channel_id = ?`, channelID)
	return err
}

func (s *SQLiteContextStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*store.ContextRecord, error) {
	var rec store.ContextRecord
	var topics, users string
	if err := sc.Scan(&rec.ChannelID, &rec.Summary, &rec.Mood, &topics, &users, &rec.LastUpdated, &rec.MessageCountSinceUpdate); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(topics), &rec.TopicKeywords); err != nil {
		return nil, fmt.Errorf("decode topic_keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(users), &rec.ActiveUsers); err != nil {
		return nil, fmt.Errorf("decode active_users: %w", err)
	}
	return &rec, nil
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
