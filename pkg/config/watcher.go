package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SeedWatcher re-applies the seed file whenever it changes on disk. Each
// successful reload is handed to the apply callback; a reload that fails to
// parse or validate is logged and skipped, keeping the last good seed.
type SeedWatcher struct {
	path    string
	logger  *slog.Logger
	apply   func(*Seed)
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSeedWatcher starts watching the seed file. The apply callback runs on
// the watcher goroutine after the debounce window, so it must not block.
func NewSeedWatcher(path string, logger *slog.Logger, apply func(*Seed)) (*SeedWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files by rename.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &SeedWatcher{
		path:    absPath,
		logger:  logger,
		apply:   apply,
		watcher: watcher,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go w.watchLoop(ctx)

	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *SeedWatcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *SeedWatcher) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		close(w.done)
	}()

	debounceDuration := 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// fsnotify events may carry relative or unclean paths.
			if filepath.Clean(event.Name) != w.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, w.reload)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("seed watcher error", "error", err)
		}
	}
}

func (w *SeedWatcher) reload() {
	seed, err := LoadSeed(w.path)
	if err != nil {
		w.logger.Warn("seed reload failed", "path", w.path, "error", err)
		return
	}
	w.logger.Info("seed reloaded", "path", w.path, "communities", len(seed.Communities))
	w.apply(seed)
}
