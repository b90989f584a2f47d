package file

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/chimein/internal/store"
)

// FileContextStore keeps one JSON file per channel under a directory.
type FileContextStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileContextStore creates the storage directory if needed.
func NewFileContextStore(dir string) (*FileContextStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file context store: empty directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create context dir: %w", err)
	}
	return &FileContextStore{dir: dir}, nil
}

func (s *FileContextStore) Load(_ context.Context, channelID string) (*store.ContextRecord, error) {
	path, err := s.pathFor(channelID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read context %s: %w", channelID, err)
	}

	var rec store.ContextRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode context %s: %w", channelID, err)
	}
	return &rec, nil
}

// Save writes the record atomically: temp file, fsync, rename.
func (s *FileContextStore) Save(_ context.Context, rec store.ContextRecord) error {
	path, err := s.pathFor(rec.ChannelID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmpFile, err := os.CreateTemp(s.dir, "context-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// List returns every readable record, sorted by channel ID. Corrupt files are skipped.
func (s *FileContextStore) List(_ context.Context) ([]store.ContextRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list context dir: %w", err)
	}

	var out []store.ContextRecord
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, f.Name()))
		if err != nil {
			continue
		}
		var rec store.ContextRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (s *FileContextStore) Delete(_ context.Context, channelID string) error {
	path, err := s.pathFor(channelID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileContextStore) Close() error { return nil }

// pathFor maps a channel ID to a file inside the store directory.
// Channel IDs like "discord:123" are path-escaped so they never leave the directory.
func (s *FileContextStore) pathFor(channelID string) (string, error) {
	if channelID == "" {
		return "", os.ErrInvalid
	}
	name := strings.ReplaceAll(url.PathEscape(channelID), ":", "_")
	if name == "." || name == ".." || !filepath.IsLocal(name) || strings.ContainsAny(name, `/\`) {
		return "", os.ErrInvalid
	}
	return filepath.Join(s.dir, name+".json"), nil
}
