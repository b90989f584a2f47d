// Package chanctx holds the rolling per-channel summary ("mood" state) that the
// summarizer keeps current and that reply generation injects into prompts.
package chanctx

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nextlevelbuilder/chimein/internal/store"
)

const (
	DefaultMessageThreshold = 20
	DefaultMinutesThreshold = 30
)

// Thresholds decide when a channel is due for summarization.
type Thresholds struct {
	MessageCount int // summarize once this many messages arrived since the last update
	Minutes      int // or once this much time passed with at least one new message
}

// DefaultThresholds returns the built-in trigger thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{MessageCount: DefaultMessageThreshold, Minutes: DefaultMinutesThreshold}
}

// ChannelContext is the compact long-lived understanding of one channel.
type ChannelContext struct {
	ChannelID               string
	Summary                 string
	Mood                    string
	TopicKeywords           []string
	ActiveUsers             []string
	LastUpdated             time.Time
	MessageCountSinceUpdate int
}

// New returns a fresh context stamped at now.
func New(channelID string, now time.Time) ChannelContext {
	return ChannelContext{ChannelID: channelID, LastUpdated: now}
}

// ShouldSummarize is true when the counter reached the count threshold, or when
// there is at least one new message and the minutes threshold has elapsed.
func (c ChannelContext) ShouldSummarize(t Thresholds, now time.Time) bool {
	if t.MessageCount > 0 && c.MessageCountSinceUpdate >= t.MessageCount {
		return true
	}
	if c.MessageCountSinceUpdate > 0 && t.Minutes > 0 {
		return now.Sub(c.LastUpdated) > time.Duration(t.Minutes)*time.Minute
	}
	return false
}

// FormatForInjection renders a prompt block, or "" when there is no summary yet.
// Empty mood/topic/user sections are omitted; order is fixed.
func (c ChannelContext) FormatForInjection() string {
	if strings.TrimSpace(c.Summary) == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("[Channel context]\n")
	sb.WriteString("Summary: ")
	sb.WriteString(c.Summary)
	if c.Mood != "" {
		sb.WriteString("\nMood: ")
		sb.WriteString(c.Mood)
	}
	if len(c.TopicKeywords) > 0 {
		sb.WriteString("\nTopics: ")
		sb.WriteString(strings.Join(c.TopicKeywords, ", "))
	}
	if len(c.ActiveUsers) > 0 {
		sb.WriteString("\nActive users: ")
		sb.WriteString(strings.Join(c.ActiveUsers, ", "))
	}
	return sb.String()
}

// Clone returns a deep copy.
func (c ChannelContext) Clone() ChannelContext {
	c.TopicKeywords = slices.Clone(c.TopicKeywords)
	c.ActiveUsers = slices.Clone(c.ActiveUsers)
	return c
}

// ToRecord converts the context into its flat persisted form.
func (c ChannelContext) ToRecord() store.ContextRecord {
	rec := store.ContextRecord{
		ChannelID:               c.ChannelID,
		Summary:                 c.Summary,
		Mood:                    c.Mood,
		TopicKeywords:           slices.Clone(c.TopicKeywords),
		ActiveUsers:             slices.Clone(c.ActiveUsers),
		MessageCountSinceUpdate: c.MessageCountSinceUpdate,
	}
	if !c.LastUpdated.IsZero() {
		rec.LastUpdated = c.LastUpdated.Format(time.RFC3339Nano)
	}
	return rec
}

// FromRecord rebuilds a context from its persisted form.
func FromRecord(rec store.ContextRecord) (ChannelContext, error) {
	c := ChannelContext{
		ChannelID:               rec.ChannelID,
		Summary:                 rec.Summary,
		Mood:                    rec.Mood,
		TopicKeywords:           slices.Clone(rec.TopicKeywords),
		ActiveUsers:             slices.Clone(rec.ActiveUsers),
		MessageCountSinceUpdate: max(rec.MessageCountSinceUpdate, 0),
	}
	if rec.LastUpdated != "" {
		ts, err := time.Parse(time.RFC3339Nano, rec.LastUpdated)
		if err != nil {
			return ChannelContext{}, fmt.Errorf("parse last_updated %q: %w", rec.LastUpdated, err)
		}
		c.LastUpdated = ts
	}
	return c, nil
}
