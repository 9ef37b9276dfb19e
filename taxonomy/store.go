package taxonomy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Store holds the current Registry. Readers take one Registry per run and
// keep using it even if a reload swaps the pointer underneath them.
type Store struct {
	cur    atomic.Pointer[Registry]
	path   string
	logger *slog.Logger
}

func NewStore(reg *Registry, path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger}
	s.cur.Store(reg)
	return s
}

func (s *Store) Current() *Registry { return s.cur.Load() }

// Reload re-reads the file. An invalid document leaves the current
// registry in place.
func (s *Store) Reload() error {
	reg, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	old := s.cur.Swap(reg)
	s.logger.Info("taxonomy reloaded", "path", s.path, "old_version", old.Version, "version", reg.Version)
	return nil
}

// Watch reloads the taxonomy whenever its file changes. It blocks until ctx
// is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create taxonomy watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors and config mounts replace the file
	// instead of writing it in place.
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Error("taxonomy reload rejected, keeping previous version",
					"path", s.path, "version", s.Current().Version, "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("taxonomy watcher error", "error", err)
		}
	}
}
