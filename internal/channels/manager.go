package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Manager owns the lifecycle of every registered channel.
type Manager struct {
	channels map[string]Channel
	mu       sync.RWMutex
}

// NewManager creates a new channel manager.
// Channels are registered externally via RegisterChannel.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]Channel)}
}

// RegisterChannel adds a channel. A channel with the same name is replaced.
func (m *Manager) RegisterChannel(name string, ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = ch
}

// GetChannel returns a registered channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// GetEnabledChannels returns the sorted names of registered channels.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GetStatus returns the running state of each channel.
func (m *Manager) GetStatus() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		status[name] = ch.IsRunning()
	}
	return status
}

// StartAll starts all registered channels. A channel that fails to start is
// logged and skipped; an error is returned only when every channel failed.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	slog.Info("starting all channels")

	var errs []error
	for name, channel := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := channel.Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if len(errs) == len(m.channels) {
		return errors.Join(errs...)
	}
	slog.Info("all channels started")
	return nil
}

// StopAll gracefully stops all channels.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slog.Info("stopping all channels")

	for name, channel := range m.channels {
		if !channel.IsRunning() {
			continue
		}
		slog.Info("stopping channel", "channel", name)
		if err := channel.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}

	slog.Info("all channels stopped")
	return nil
}
