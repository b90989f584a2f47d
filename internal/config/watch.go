package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the config file whenever it changes on disk and passes every
// valid, changed result to onChange. It blocks until ctx is cancelled.
// The parent directory is watched so editors that replace the file are handled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(path)
	file := filepath.Base(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch config dir %s: %w", dir, err)
	}
	slog.Debug("config watcher started", "dir", dir, "file", file)

	var (
		mu       sync.Mutex
		timer    *time.Timer
		lastHash string
	)
	if cur, err := Load(path); err == nil {
		lastHash = cur.Hash()
	}

	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			slog.Warn("config reload rejected", "path", path, "error", err)
			return
		}
		h := cfg.Hash()
		mu.Lock()
		unchanged := h == lastHash
		lastHash = h
		mu.Unlock()
		if unchanged {
			slog.Debug("config unchanged; skipping reload", "path", path)
			return
		}
		slog.Info("config reloaded", "path", path, "hash", h)
		onChange(cfg)
	}

	debounce := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, reload)
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watch error", "dir", dir, "error", err)
		}
	}
}
