package chanctx

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/chimein/internal/store"
)

// Store caches channel contexts in memory over an optional persistence backend.
// Reads fall through cache → backend → fresh context; writes go through to the
// backend and always update the cache (last writer wins).
type Store struct {
	backend    store.ContextStore // nil = memory only
	mu         sync.Mutex
	cache      map[string]*ChannelContext
	loading    map[string]chan struct{} // closed when the channel's backend load finishes
	thresholds Thresholds
	now        func() time.Time
}

// NewStore creates a context store. backend may be nil.
func NewStore(backend store.ContextStore, thresholds Thresholds) *Store {
	return &Store{
		backend:    backend,
		cache:      make(map[string]*ChannelContext),
		loading:    make(map[string]chan struct{}),
		thresholds: thresholds,
		now:        time.Now,
	}
}

// Thresholds returns the summarization trigger thresholds.
func (s *Store) Thresholds() Thresholds { return s.thresholds }

// Now returns the store's clock reading.
func (s *Store) Now() time.Time { return s.now() }

// Get returns a copy of the channel's context, loading it on first access.
// A failed load is treated as "no prior context".
func (s *Store) Get(ctx context.Context, channelID string) ChannelContext {
	c := s.lockEntry(ctx, channelID)
	defer s.mu.Unlock()
	return c.Clone()
}

// lockEntry returns the cached context for channelID with s.mu held. On a
// miss the backend is read with s.mu released, so a slow load never stalls
// other channels; concurrent misses on one channel share a single load.
// A Save that lands while the load runs takes precedence over the loaded value.
func (s *Store) lockEntry(ctx context.Context, channelID string) *ChannelContext {
	s.mu.Lock()
	for {
		if c, ok := s.cache[channelID]; ok {
			return c
		}
		if wait, ok := s.loading[channelID]; ok {
			s.mu.Unlock()
			<-wait
			s.mu.Lock()
			continue
		}

		done := make(chan struct{})
		s.loading[channelID] = done
		s.mu.Unlock()

		loaded := s.load(ctx, channelID)

		s.mu.Lock()
		delete(s.loading, channelID)
		close(done)
		if c, ok := s.cache[channelID]; ok {
			return c
		}
		s.cache[channelID] = loaded
		return loaded
	}
}

func (s *Store) load(ctx context.Context, channelID string) *ChannelContext {
	fresh := New(channelID, s.now())
	if s.backend == nil {
		return &fresh
	}

	rec, err := s.backend.Load(ctx, channelID)
	if err != nil {
		slog.Warn("channel context load failed, starting fresh", "channel_id", channelID, "error", err)
		return &fresh
	}
	if rec == nil {
		return &fresh
	}

	c, err := FromRecord(*rec)
	if err != nil {
		slog.Warn("channel context record invalid, starting fresh", "channel_id", channelID, "error", err)
		return &fresh
	}
	c.ChannelID = channelID
	return &c
}

// IncrementMessageCount bumps the counter for a newly observed message and
// returns the updated context.
func (s *Store) IncrementMessageCount(ctx context.Context, channelID string) ChannelContext {
	c := s.lockEntry(ctx, channelID)
	defer s.mu.Unlock()
	c.MessageCountSinceUpdate++
	return c.Clone()
}

// Save updates the cache and writes through to the backend. The cache is updated
// even when the backend write fails; the error is returned for logging.
func (s *Store) Save(ctx context.Context, c ChannelContext) error {
	c = c.Clone()
	if c.MessageCountSinceUpdate < 0 {
		c.MessageCountSinceUpdate = 0
	}

	s.mu.Lock()
	if prev, ok := s.cache[c.ChannelID]; ok && c.LastUpdated.Before(prev.LastUpdated) {
		c.LastUpdated = prev.LastUpdated
	}
	s.cache[c.ChannelID] = &c
	rec := c.ToRecord()
	s.mu.Unlock()

	if s.backend == nil {
		return nil
	}
	return s.backend.Save(ctx, rec)
}

// Update applies fn to the cached context under the store lock and persists the result.
// fn must not call back into the store.
func (s *Store) Update(ctx context.Context, channelID string, fn func(*ChannelContext)) (ChannelContext, error) {
	cur := s.lockEntry(ctx, channelID).Clone()
	prevUpdated := cur.LastUpdated
	fn(&cur)
	if cur.LastUpdated.Before(prevUpdated) {
		cur.LastUpdated = prevUpdated
	}
	if cur.MessageCountSinceUpdate < 0 {
		cur.MessageCountSinceUpdate = 0
	}
	cur.ChannelID = channelID
	stored := cur.Clone()
	s.cache[channelID] = &stored
	rec := cur.ToRecord()
	s.mu.Unlock()

	if s.backend == nil {
		return cur, nil
	}
	return cur, s.backend.Save(ctx, rec)
}

// Forget drops a channel from the cache and the backend.
func (s *Store) Forget(ctx context.Context, channelID string) error {
	s.mu.Lock()
	delete(s.cache, channelID)
	s.mu.Unlock()
	if s.backend == nil {
		return nil
	}
	return s.backend.Delete(ctx, channelID)
}
