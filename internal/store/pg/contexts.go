package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nextlevelbuilder/chimein/internal/store"
)

// PGContextStore implements store.ContextStore backed by the channel_contexts table
// (see migrations/000001_channel_contexts.up.sql).
type PGContextStore struct {
	db *sql.DB
}

func NewPGContextStore(db *sql.DB) *PGContextStore {
	return &PGContextStore{db: db}
}

func (s *PGContextStore) Load(ctx context.Context, channelID string) (*store.ContextRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT channel_id, summary, mood, topic_keywords, active_users, last_updated, message_count_since_update
		 FROM channel_contexts WHERE channel_id = $1`, channelID)

	rec, err := scanContext(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load context %s: %w", channelID, err)
	}
	return rec, nil
}

func (s *PGContextStore) Save(ctx context.Context, rec store.ContextRecord) error {
	topics := rec.TopicKeywords
	if topics == nil {
		topics = []string{}
	}
	users := rec.ActiveUsers
	if users == nil {
		users = []string{}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_contexts
		   (id, channel_id, summary, mood, topic_keywords, active_users, last_updated, message_count_since_update, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		 ON CONFLICT (channel_id) DO UPDATE SET
		   summary = EXCLUDED.summary,
		   mood = EXCLUDED.mood,
		   topic_keywords = EXCLUDED.topic_keywords,
		   active_users = EXCLUDED.active_users,
		   last_updated = EXCLUDED.last_updated,
		   message_count_since_update = EXCLUDED.message_count_since_update,
		   updated_at = NOW()`,
		uuid.Must(uuid.NewV7()), rec.ChannelID, rec.Summary, rec.Mood,
		pq.Array(topics), pq.Array(users), rec.LastUpdated, rec.MessageCountSinceUpdate,
	)
	if err != nil {
		return fmt.Errorf("save context %s: %w", rec.ChannelID, err)
	}
	return nil
}

func (s *PGContextStore) List(ctx context.Context) ([]store.ContextRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, summary, mood, topic_keywords, active_users, last_updated, message_count_since_update
		 FROM channel_contexts ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var out []store.ContextRecord
	for rows.Next() {
		rec, err := scanContext(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *PGContextStore) Delete(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM channel_contexts WHERE channel_id = $1`, channelID)
	return err
}

func (s *PGContextStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContext(sc rowScanner) (*store.ContextRecord, error) {
	var rec store.ContextRecord
	var topics, users []string
	if err := sc.Scan(&rec.ChannelID, &rec.Summary, &rec.Mood,
		pq.Array(&topics), pq.Array(&users), &rec.LastUpdated, &rec.MessageCountSinceUpdate); err != nil {
		return nil, err
	}
	rec.TopicKeywords = topics
	rec.ActiveUsers = users
	return &rec, nil
}
