package store

import "context"

// ContextRecord is the flat persisted form of a channel's rolling context.
// LastUpdated is an RFC 3339 timestamp with nanoseconds and zone offset.
type ContextRecord struct {
	ChannelID               string   `json:"channel_id"`
	Summary                 string   `json:"summary"`
	Mood                    string   `json:"mood"`
	TopicKeywords           []string `json:"topic_keywords"`
	ActiveUsers             []string `json:"active_users"`
	LastUpdated             string   `json:"last_updated"`
	MessageCountSinceUpdate int      `json:"message_count_since_update"`
}

// ContextStore persists channel context records.
// Load returns (nil, nil) when no record exists for the channel.
type ContextStore interface {
	Load(ctx context.Context, channelID string) (*ContextRecord, error)
	Save(ctx context.Context, rec ContextRecord) error
	List(ctx context.Context) ([]ContextRecord, error)
	Delete(ctx context.Context, channelID string) error
	Close() error
}
