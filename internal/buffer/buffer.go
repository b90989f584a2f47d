// Package buffer keeps a short-term, bounded memory of recent messages per chat channel.
//
// Each channel owns a fixed-capacity ring ordered by insertion. Reads filter out
// messages older than the configured TTL without removing them; only CleanupExpired
// compacts the rings and forgets silent channels.
package buffer

import (
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	DefaultCapacity = 50
	DefaultTTL      = 60 * time.Minute
)

// ChannelMessage is one observed chat message. Values are never mutated after creation.
type ChannelMessage struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	IsBot       bool      `json:"is_bot"`
	Attachments []string  `json:"attachments,omitempty"`
}

// DisplayName returns the author name, falling back to the author ID.
func (m ChannelMessage) DisplayName() string {
	if m.AuthorName != "" {
		return m.AuthorName
	}
	return m.AuthorID
}

// ring is a fixed-capacity circular queue. head is the index of the oldest entry.
type ring struct {
	items []ChannelMessage
	head  int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{items: make([]ChannelMessage, capacity)}
}

func (r *ring) push(m ChannelMessage) {
	if r.size == len(r.items) {
		r.items[r.head] = m
		r.head = (r.head + 1) % len(r.items)
		return
	}
	r.items[(r.head+r.size)%len(r.items)] = m
	r.size++
}

func (r *ring) at(i int) ChannelMessage {
	return r.items[(r.head+i)%len(r.items)]
}

func (r *ring) popFront() {
	r.items[r.head] = ChannelMessage{}
	r.head = (r.head + 1) % len(r.items)
	r.size--
}

// Buffer holds the per-channel rings. Safe for concurrent use; all mutation
// goes through a single mutex so appends and cleanup never interleave on a ring.
type Buffer struct {
	mu       sync.Mutex
	channels map[string]*ring
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// New creates a buffer. Non-positive arguments fall back to the defaults.
func New(capacity int, ttl time.Duration) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Buffer{
		channels: make(map[string]*ring),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Capacity returns the per-channel ring size.
func (b *Buffer) Capacity() int { return b.capacity }

// TTL returns the read-time retention window.
func (b *Buffer) TTL() time.Duration { return b.ttl }

// Add appends a message to its channel's ring, evicting the oldest entry at capacity.
func (b *Buffer) Add(msg ChannelMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.channels[msg.ChannelID]
	if !ok {
		r = newRing(b.capacity)
		b.channels[msg.ChannelID] = r
	}
	r.push(msg)
}

// Recent returns up to limit non-expired messages for a channel, oldest first.
func (b *Buffer) Recent(channelID string, limit int) []ChannelMessage {
	if limit <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.channels[channelID]
	if !ok || r.size == 0 {
		return nil
	}

	cutoff := b.now().Add(-b.ttl)
	out := make([]ChannelMessage, 0, min(limit, r.size))
	for i := r.size - 1; i >= 0 && len(out) < limit; i-- {
		m := r.at(i)
		if m.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, m)
	}
	slices.Reverse(out)

	// Platforms occasionally deliver slightly out of order; readers expect time order.
	slices.SortStableFunc(out, func(a, b ChannelMessage) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// ContextString renders the Recent window as "author: content" lines, tagging bot
// authors with [BOT]. Returns "" when nothing is eligible.
func (b *Buffer) ContextString(channelID string, limit int) string {
	msgs := b.Recent(channelID, limit)
	if len(msgs) == 0 {
		return ""
	}
	return FormatLines(msgs)
}

// FormatLines renders messages the same way ContextString does.
func FormatLines(msgs []ChannelMessage) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(m.DisplayName())
		if m.IsBot {
			sb.WriteString("[BOT]")
		}
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}

// CleanupExpired drops expired messages from the front of every ring and forgets
// channels left empty. Returns the number of removed messages.
func (b *Buffer) CleanupExpired() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.ttl)
	removed := 0
	for id, r := range b.channels {
		for r.size > 0 && r.at(0).CreatedAt.Before(cutoff) {
			r.popFront()
			removed++
		}
		if r.size == 0 {
			delete(b.channels, id)
		}
	}
	return removed
}

// Len returns the number of physically stored messages for a channel, expired or not.
func (b *Buffer) Len(channelID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.channels[channelID]; ok {
		return r.size
	}
	return 0
}

// ChannelCount returns how many channels currently hold messages.
func (b *Buffer) ChannelCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels)
}
