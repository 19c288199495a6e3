package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// DefaultDebounce coalesces bursts of writes into one reload.
const DefaultDebounce = 250 * time.Millisecond

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize snapshot watcher")

// PublishFunc receives every successfully loaded snapshot.
type PublishFunc func(ctx context.Context, patterns []pattern.Meta) error

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Watcher reloads a snapshot when its file or directory changes. A reload
// that fails leaves the previously published snapshot in place.
type Watcher struct {
	path     string
	dir      bool
	publish  PublishFunc
	debounce time.Duration
	logger   *zap.Logger

	watcher  *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher for the snapshot at path.
func NewWatcher(path string, publish PublishFunc, opts ...WatcherOption) (*Watcher, error) {
	if publish == nil {
		return nil, fmt.Errorf("publish func cannot be nil")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving snapshot path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	w := &Watcher{
		path:     abs,
		dir:      info.IsDir(),
		publish:  publish,
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
		watcher:  fsw,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. Editors often replace files by rename, so for a
// single file the parent directory is watched and events are filtered by
// name.
func (w *Watcher) Start(ctx context.Context) error {
	target := w.path
	if !w.dir {
		target = filepath.Dir(w.path)
	}
	if err := w.watcher.Add(target); err != nil {
		return fmt.Errorf("watching %s: %w", target, err)
	}

	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
	w.wg.Wait()
}

// Reload loads and publishes the snapshot once.
func (w *Watcher) Reload(ctx context.Context) error {
	patterns, err := Load(w.path)
	if err != nil {
		return err
	}
	if err := w.publish(ctx, patterns); err != nil {
		return fmt.Errorf("publishing snapshot: %w", err)
	}
	w.logger.Info("snapshot reloaded",
		zap.String("path", w.path),
		zap.Int("patterns", len(patterns)))
	return nil
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	if w.dir {
		return IsSnapshotFile(ev.Name)
	}
	return filepath.Clean(ev.Name) == w.path
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.relevant(ev) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("snapshot watcher error", zap.Error(err))
		case <-timer.C:
			if err := w.Reload(ctx); err != nil {
				w.logger.Error("snapshot reload failed, keeping previous snapshot",
					zap.String("path", w.path),
					zap.Error(err))
			}
		}
	}
}
