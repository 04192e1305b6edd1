package config

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/smazurov/dmacap/internal/logging"
)

// DefaultDebounce is how long the watcher waits for a burst of writes to
// settle before reloading.
const DefaultDebounce = 1500 * time.Millisecond

// Watcher watches a configuration file and notifies typed handlers
// when the file changes. Config is loaded fresh on each change to ensure
// handlers never receive stale data.
//
// The parent directory is watched rather than the file itself, so editors
// that save by writing a temporary file and renaming it over the original
// keep triggering reloads.
type Watcher[T any] struct {
	path     string
	name     string
	debounce time.Duration
	loader   func(path string) (T, error)
	handlers map[int]func(T)
	nextID   int
	onError  func(error)
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption[T any] func(*Watcher[T])

// WithDebounce sets the debounce duration for config changes.
// Default is DefaultDebounce.
func WithDebounce[T any](d time.Duration) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.debounce = d
	}
}

// WithErrorHandler sets a callback for config load errors.
// If not set, errors are only logged.
func WithErrorHandler[T any](handler func(error)) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.onError = handler
	}
}

// NewConfigWatcher creates a new typed configuration file watcher.
// The loader function is called fresh on every file change to ensure
// handlers always receive up-to-date config data.
func NewConfigWatcher[T any](
	path string,
	loader func(path string) (T, error),
	logger *slog.Logger,
	opts ...WatcherOption[T],
) *Watcher[T] {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher[T]{
		path:     filepath.Clean(path),
		name:     filepath.Base(path),
		debounce: DefaultDebounce,
		loader:   loader,
		handlers: make(map[int]func(T)),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload registers a handler to be called when config changes.
// Returns an unsubscribe function to remove the handler.
func (w *Watcher[T]) OnReload(handler func(T)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.handlers[id] = handler
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.handlers, id)
	}
}

// Start begins watching until ctx is done or Stop is called.
func (w *Watcher[T]) Start(ctx context.Context) error {
	if w.watcher != nil {
		return errors.New("config watcher already started")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if addErr := watcher.Add(filepath.Dir(w.path)); addErr != nil {
		watcher.Close()
		return addErr
	}
	w.watcher = watcher

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	w.logger.Info("Config watcher started", "path", w.path, "debounce", w.debounce)
	go w.watch(ctx)
	return nil
}

// Stop stops watching and waits for the watch goroutine to exit.
func (w *Watcher[T]) Stop() error {
	if w.watcher == nil {
		return nil
	}
	w.cancel()
	<-w.done
	return w.watcher.Close()
}

func (w *Watcher[T]) watch(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Debug("Config watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != w.name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("Config file change detected", "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.logger.Info("Config file changed, reloading")
			w.loadAndNotify()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", "error", err)
		}
	}
}

func (w *Watcher[T]) loadAndNotify() {
	config, err := w.loader(w.path)
	if err != nil {
		w.logger.Warn("Failed to load config", "error", err)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	// All handlers receive the same snapshot.
	w.mu.RLock()
	handlers := make([]func(T), 0, len(w.handlers))
	for id := 0; id < w.nextID; id++ {
		if h, ok := w.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	w.mu.RUnlock()

	for _, handler := range handlers {
		handler(config)
	}
}

// WatchLogging reloads log levels from the [logging] table of path whenever
// the file changes. The returned watcher is already started.
func WatchLogging(ctx context.Context, path string, logger *slog.Logger) (*Watcher[logging.Config], error) {
	w := NewConfigWatcher(path, LoadLogging, logger)
	w.OnReload(func(cfg logging.Config) {
		logging.Reconfigure(cfg)
		w.logger.Info("Log levels reloaded", "level", cfg.Level, "modules", len(cfg.Modules))
	})
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
