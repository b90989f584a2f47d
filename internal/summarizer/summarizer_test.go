package summarizer

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/chimein/internal/buffer"
	"github.com/nextlevelbuilder/chimein/internal/chanctx"
	"github.com/nextlevelbuilder/chimein/internal/providers"
	"github.com/nextlevelbuilder/chimein/internal/store"
)

func msgs(channelID string, authors ...string) []buffer.ChannelMessage {
	out := make([]buffer.ChannelMessage, len(authors))
	base := time.Now().Add(-time.Minute)
	for i, a := range authors {
		out[i] = buffer.ChannelMessage{
			ChannelID:  channelID,
			AuthorID:   a,
			AuthorName: a,
			Content:    "message from " + a,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
			IsBot:      a == "chimein",
		}
	}
	return out
}

// due bumps the counter to the threshold so the channel is ready for a run.
func due(t *testing.T, st *chanctx.Store, channelID string) {
	t.Helper()
	for i := 0; i < st.Thresholds().MessageCount; i++ {
		st.IncrementMessageCount(context.Background(), channelID)
	}
}

func newStore(backend store.ContextStore) *chanctx.Store {
	return chanctx.NewStore(backend, chanctx.Thresholds{MessageCount: 3, Minutes: 30})
}

func waitAll(t *testing.T, s *Summarizer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestMaybeTriggerNotDue(t *testing.T) {
	st := newStore(nil)
	var calls atomic.Int32
	gen := providers.GeneratorFunc(func(context.Context, string, providers.ResponseFormat) (string, error) {
		calls.Add(1)
		return `{}`, nil
	})
	s := New(gen, st, Config{})

	st.IncrementMessageCount(context.Background(), "c1")
	if s.MaybeTrigger(context.Background(), "c1", msgs("c1", "alice")) {
		t.Error("scheduled a run below the threshold")
	}
	due(t, st, "c2")
	if s.MaybeTrigger(context.Background(), "c2", nil) {
		t.Error("scheduled a run with an empty window")
	}
	waitAll(t, s)
	if calls.Load() != 0 {
		t.Errorf("generator called %d times, want 0", calls.Load())
	}
}

func TestInFlightGuard(t *testing.T) {
	st := newStore(nil)
	release := make(chan struct{})
	var calls sync.Map
	gen := providers.GeneratorFunc(func(ctx context.Context, prompt string, _ providers.ResponseFormat) (string, error) {
		<-release
		key := "c2"
		if strings.Contains(prompt, "c1-user") {
			key = "c1"
		}
		n, _ := calls.LoadOrStore(key, new(atomic.Int32))
		n.(*atomic.Int32).Add(1)
		return `{"summary": "talked", "mood": "chill", "topic_keywords": ["go"]}`, nil
	})
	s := New(gen, st, Config{})

	due(t, st, "c1")
	due(t, st, "c2")
	window := msgs("c1", "c1-user")

	if !s.MaybeTrigger(context.Background(), "c1", window) {
		t.Fatal("first trigger did not schedule")
	}
	if s.MaybeTrigger(context.Background(), "c1", window) {
		t.Error("second trigger for the same channel scheduled another run")
	}
	if !s.InFlight("c1") {
		t.Error("c1 not marked in flight")
	}
	if !s.MaybeTrigger(context.Background(), "c2", msgs("c2", "c2-user")) {
		t.Error("trigger for another channel was blocked")
	}

	close(release)
	waitAll(t, s)

	for _, ch := range []string{"c1", "c2"} {
		n, ok := calls.Load(ch)
		if !ok || n.(*atomic.Int32).Load() != 1 {
			t.Errorf("%s: want exactly one summarization", ch)
		}
		if s.InFlight(ch) {
			t.Errorf("%s still in flight after completion", ch)
		}
	}
}

func TestRunMergesResult(t *testing.T) {
	st := newStore(nil)
	ctx := context.Background()

	start := time.Now()
	_, err := st.Update(ctx, "c1", func(c *chanctx.ChannelContext) {
		c.Summary = "old summary"
		c.Mood = "calm"
		c.TopicKeywords = []string{"rust"}
		c.ActiveUsers = []string{"zed"}
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	due(t, st, "c1")

	var prompt string
	gen := providers.GeneratorFunc(func(_ context.Context, p string, format providers.ResponseFormat) (string, error) {
		prompt = p
		if format != providers.FormatJSON {
			t.Errorf("format = %q, want json", format)
		}
		return "```json\n{\"summary\": \"new summary\"}\n```", nil
	})
	s := New(gen, st, Config{})

	window := msgs("c1", "alice", "bob", "chimein", "alice", "carol")
	if !s.MaybeTrigger(ctx, "c1", window) {
		t.Fatal("trigger did not schedule")
	}
	waitAll(t, s)

	if !strings.Contains(prompt, "old summary") || !strings.Contains(prompt, "chimein[BOT]: message from chimein") {
		t.Errorf("prompt missing previous summary or window:\n%s", prompt)
	}

	got := st.Get(ctx, "c1")
	if got.Summary != "new summary" {
		t.Errorf("Summary = %q", got.Summary)
	}
	if got.Mood != "calm" {
		t.Errorf("Mood = %q, want previous value kept", got.Mood)
	}
	if !slices.Equal(got.TopicKeywords, []string{"rust"}) {
		t.Errorf("TopicKeywords = %v, want previous value kept", got.TopicKeywords)
	}
	if want := []string{"alice", "bob", "carol"}; !slices.Equal(got.ActiveUsers, want) {
		t.Errorf("ActiveUsers = %v, want %v", got.ActiveUsers, want)
	}
	if got.MessageCountSinceUpdate != 0 {
		t.Errorf("counter = %d, want reset", got.MessageCountSinceUpdate)
	}
	if got.LastUpdated.Before(start) {
		t.Errorf("LastUpdated %v moved backwards", got.LastUpdated)
	}
}

func TestFailureLeavesContextUnchanged(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"generate error", "", errors.New("rate limited")},
		{"no json", "I could not summarize that.", nil},
		{"bad json", `{"summary": 42}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newStore(nil)
			ctx := context.Background()
			due(t, st, "c1")
			before := st.Get(ctx, "c1")

			gen := providers.GeneratorFunc(func(context.Context, string, providers.ResponseFormat) (string, error) {
				return tt.reply, tt.err
			})
			s := New(gen, st, Config{})
			if !s.MaybeTrigger(ctx, "c1", msgs("c1", "alice")) {
				t.Fatal("trigger did not schedule")
			}
			waitAll(t, s)

			after := st.Get(ctx, "c1")
			if after.Summary != before.Summary || after.MessageCountSinceUpdate != before.MessageCountSinceUpdate ||
				!after.LastUpdated.Equal(before.LastUpdated) {
				t.Errorf("context changed after failure: before %+v after %+v", before, after)
			}
			if s.InFlight("c1") {
				t.Error("in-flight mark not cleared after failure")
			}
			// A failed run can be retried on the next qualifying message.
			if !s.MaybeTrigger(ctx, "c1", msgs("c1", "alice")) {
				t.Error("retrigger after failure did not schedule")
			}
			waitAll(t, s)
		})
	}
}

type failingBackend struct{ saves atomic.Int32 }

func (f *failingBackend) Load(context.Context, string) (*store.ContextRecord, error) { return nil, nil }
func (f *failingBackend) Save(context.Context, store.ContextRecord) error {
	f.saves.Add(1)
	return errors.New("disk full")
}
func (f *failingBackend) List(context.Context) ([]store.ContextRecord, error) { return nil, nil }
func (f *failingBackend) Delete(context.Context, string) error                { return nil }
func (f *failingBackend) Close() error                                        { return nil }

func TestSaveFailureKeepsMemoryState(t *testing.T) {
	backend := &failingBackend{}
	st := newStore(backend)
	ctx := context.Background()
	due(t, st, "c1")

	gen := providers.GeneratorFunc(func(context.Context, string, providers.ResponseFormat) (string, error) {
		return `{"summary": "s", "mood": "busy", "topic_keywords": ["a", "b"]}`, nil
	})
	s := New(gen, st, Config{})
	s.MaybeTrigger(ctx, "c1", msgs("c1", "alice"))
	waitAll(t, s)

	if backend.saves.Load() != 1 {
		t.Errorf("saves = %d, want 1", backend.saves.Load())
	}
	got := st.Get(ctx, "c1")
	if got.Summary != "s" || got.Mood != "busy" || got.MessageCountSinceUpdate != 0 {
		t.Errorf("in-memory context = %+v, want updated despite save failure", got)
	}
}

func TestBoundedFanOut(t *testing.T) {
	st := newStore(nil)
	var running, peak atomic.Int32
	release := make(chan struct{})
	gen := providers.GeneratorFunc(func(context.Context, string, providers.ResponseFormat) (string, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return `{"summary": "x"}`, nil
	})
	s := New(gen, st, Config{MaxConcurrent: 2})

	for _, ch := range []string{"a", "b", "c", "d", "e"} {
		due(t, st, ch)
		if !s.MaybeTrigger(context.Background(), ch, msgs(ch, "u")) {
			t.Fatalf("trigger %s did not schedule", ch)
		}
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	waitAll(t, s)

	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestActiveUsers(t *testing.T) {
	window := []buffer.ChannelMessage{
		{AuthorName: "bob"},
		{AuthorName: "chimein", IsBot: true},
		{AuthorID: "u42"},
		{AuthorName: "bob"},
		{AuthorName: "alice"},
		{},
	}
	want := []string{"bob", "u42", "alice"}
	if got := ActiveUsers(window); !slices.Equal(got, want) {
		t.Errorf("ActiveUsers = %v, want %v", got, want)
	}
}
