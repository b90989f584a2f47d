// Package summarizer keeps each channel's rolling context current in the background.
package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/nextlevelbuilder/chimein/internal/buffer"
	"github.com/nextlevelbuilder/chimein/internal/chanctx"
	"github.com/nextlevelbuilder/chimein/internal/providers"
)

const (
	DefaultTimeout       = 90 * time.Second
	DefaultMaxConcurrent = 4
)

// Config bounds the background work.
type Config struct {
	Timeout       time.Duration // per summarization, including the wait for a slot
	MaxConcurrent int           // summarizations running at once across all channels
}

// SummaryResult is the JSON shape the model is asked to return. A nil field
// means the model left it out and the previous value is kept.
type SummaryResult struct {
	Summary       *string   `json:"summary"`
	Mood          *string   `json:"mood"`
	TopicKeywords *[]string `json:"topic_keywords"`
}

// Summarizer folds recent messages into a channel's context. At most one run
// per channel is outstanding; extra triggers are dropped.
type Summarizer struct {
	gen   providers.Generator
	store *chanctx.Store
	cfg   Config
	sem   *semaphore.Weighted

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup

	now   func() time.Time
	spawn func(func())
}

// New creates a summarizer writing through store.
func New(gen providers.Generator, store *chanctx.Store, cfg Config) *Summarizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Summarizer{
		gen:      gen,
		store:    store,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		inFlight: make(map[string]struct{}),
		now:      store.Now,
		spawn:    func(f func()) { go f() },
	}
}

// MaybeTrigger schedules a background summarization when the channel is due and
// none is running for it. It never blocks on the model; the return value reports
// whether a run was scheduled.
func (s *Summarizer) MaybeTrigger(ctx context.Context, channelID string, recent []buffer.ChannelMessage) bool {
	if len(recent) == 0 {
		return false
	}
	c := s.store.Get(ctx, channelID)
	if !c.ShouldSummarize(s.store.Thresholds(), s.store.Now()) {
		return false
	}

	s.mu.Lock()
	if _, busy := s.inFlight[channelID]; busy {
		s.mu.Unlock()
		slog.Debug("summarization already in progress, skipping", "channel_id", channelID)
		return false
	}
	s.inFlight[channelID] = struct{}{}
	s.mu.Unlock()

	window := slices.Clone(recent)
	s.wg.Add(1)
	s.spawn(func() {
		defer s.wg.Done()
		defer s.clear(channelID)
		s.run(channelID, window)
	})
	return true
}

// InFlight reports whether a run for the channel is outstanding.
func (s *Summarizer) InFlight(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[channelID]
	return ok
}

// Wait blocks until every scheduled run has finished or ctx is done.
func (s *Summarizer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Summarizer) clear(channelID string) {
	s.mu.Lock()
	delete(s.inFlight, channelID)
	s.mu.Unlock()
}

func (s *Summarizer) run(channelID string, window []buffer.ChannelMessage) {
	runID := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		slog.Warn("summarizer: no slot before timeout", "channel_id", channelID, "run_id", runID, "error", err)
		return
	}
	defer s.sem.Release(1)

	ctx, span := otel.Tracer("chimein/summarizer").Start(ctx, "summarizer.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("channel_id", channelID),
		attribute.Int("messages", len(window)),
	)

	prev := s.store.Get(ctx, channelID)
	text, err := s.gen.Generate(ctx, buildPrompt(prev.Summary, window), providers.FormatJSON)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("summarizer: generate failed", "channel_id", channelID, "run_id", runID, "error", err)
		return
	}

	result, err := ParseSummaryResult(text)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("summarizer: unparseable reply", "channel_id", channelID, "run_id", runID, "error", err)
		return
	}

	users := ActiveUsers(window)
	now := s.now()
	updated, err := s.store.Update(ctx, channelID, func(c *chanctx.ChannelContext) {
		result.apply(c)
		c.ActiveUsers = users
		c.MessageCountSinceUpdate = 0
		c.LastUpdated = now
	})
	if err != nil {
		slog.Warn("summarizer: persist failed, kept in memory", "channel_id", channelID, "run_id", runID, "error", err)
	}

	slog.Info("channel context updated",
		"channel_id", channelID,
		"run_id", runID,
		"mood", updated.Mood,
		"topics", len(updated.TopicKeywords),
		"active_users", len(updated.ActiveUsers),
	)
}

func (r SummaryResult) apply(c *chanctx.ChannelContext) {
	if r.Summary != nil {
		c.Summary = strings.TrimSpace(*r.Summary)
	}
	if r.Mood != nil {
		c.Mood = strings.TrimSpace(*r.Mood)
	}
	if r.TopicKeywords != nil {
		c.TopicKeywords = slices.Clone(*r.TopicKeywords)
	}
}

// ParseSummaryResult decodes the model reply.
func ParseSummaryResult(text string) (SummaryResult, error) {
	var r SummaryResult
	obj, err := providers.ExtractJSONObject(text)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(obj), &r); err != nil {
		return r, fmt.Errorf("decode summary: %w", err)
	}
	return r, nil
}

// ActiveUsers lists human authors in first-appearance order, without duplicates.
func ActiveUsers(msgs []buffer.ChannelMessage) []string {
	var users []string
	seen := make(map[string]struct{})
	for _, m := range msgs {
		if m.IsBot {
			continue
		}
		name := m.DisplayName()
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		users = append(users, name)
	}
	return users
}

func buildPrompt(previous string, window []buffer.ChannelMessage) string {
	var sb strings.Builder
	sb.WriteString("You keep a running summary of a group chat channel.\n")
	if previous != "" {
		sb.WriteString("\nPrevious summary:\n")
		sb.WriteString(previous)
		sb.WriteString("\n")
	}
	sb.WriteString("\nRecent messages:\n")
	sb.WriteString(buffer.FormatLines(window))
	sb.WriteString("\n\nUpdate the summary to cover the recent messages. Reply with a JSON object:\n")
	sb.WriteString(`{"summary": "<2-4 sentences>", "mood": "<one or two words>", "topic_keywords": ["<up to 5 short keywords>"]}`)
	return sb.String()
}
