package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/dmacap/internal/logging"
)

type captureSettings struct {
	Device  string `toml:"device"`
	Buffers int    `toml:"buffers"`
}

func loadCaptureSettings(path string) (captureSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return captureSettings{}, err
	}
	var cfg captureSettings
	err = toml.Unmarshal(data, &cfg)
	return cfg, err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startWatcher writes initial content to a temp config file and starts a
// watcher on it with a short debounce.
func startWatcher(t *testing.T, initial string, opts ...WatcherOption[captureSettings]) (*Watcher[captureSettings], string) {
	t.Helper()
	path := writeTemp(t, initial)
	opts = append([]WatcherOption[captureSettings]{WithDebounce[captureSettings](50 * time.Millisecond)}, opts...)
	w := NewConfigWatcher(path, loadCaptureSettings, newTestLogger(), opts...)
	return w, path
}

func run(t *testing.T, w *Watcher[captureSettings]) {
	t.Helper()
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("watcher.Stop failed: %v", err)
		}
	})
	// let the watch goroutine settle
	time.Sleep(50 * time.Millisecond)
}

func TestConfigWatcher_BasicReload(t *testing.T) {
	w, path := startWatcher(t, "device = \"/dev/video0\"\nbuffers = 4\n")
	received := make(chan captureSettings, 1)
	w.OnReload(func(cfg captureSettings) { received <- cfg })
	run(t, w)

	if err := os.WriteFile(path, []byte("device = \"/dev/video1\"\nbuffers = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Device != "/dev/video1" || cfg.Buffers != 2 {
			t.Errorf("got %+v, want /dev/video1 with 2 buffers", cfg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestConfigWatcher_ReplacedByRename(t *testing.T) {
	w, path := startWatcher(t, "buffers = 4\n")
	received := make(chan captureSettings, 1)
	w.OnReload(func(cfg captureSettings) { received <- cfg })
	run(t, w)

	tmp := filepath.Join(filepath.Dir(path), ".config.toml.swp")
	if err := os.WriteFile(tmp, []byte("buffers = 8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Buffers != 8 {
			t.Errorf("Buffers = %d, want 8", cfg.Buffers)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload after rename")
	}
}

func TestConfigWatcher_IgnoresOtherFiles(t *testing.T) {
	w, path := startWatcher(t, "buffers = 4\n")
	var count atomic.Int32
	w.OnReload(func(captureSettings) { count.Add(1) })
	run(t, w)

	other := filepath.Join(filepath.Dir(path), "other.toml")
	if err := os.WriteFile(other, []byte("buffers = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("expected no reloads for a sibling file, got %d", got)
	}
}

func TestConfigWatcher_MultipleHandlersAndUnsubscribe(t *testing.T) {
	w, path := startWatcher(t, "buffers = 1\n")

	var mu sync.Mutex
	calls := make(map[string][]int)
	record := func(name string) func(captureSettings) {
		return func(cfg captureSettings) {
			mu.Lock()
			calls[name] = append(calls[name], cfg.Buffers)
			mu.Unlock()
		}
	}
	w.OnReload(record("first"))
	unsub := w.OnReload(record("second"))
	run(t, w)

	if err := os.WriteFile(path, []byte("buffers = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(250 * time.Millisecond)

	unsub()
	unsub()

	if err := os.WriteFile(path, []byte("buffers = 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(250 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if got := calls["first"]; len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("first handler saw %v, want [2 3]", got)
	}
	if got := calls["second"]; len(got) != 1 || got[0] != 2 {
		t.Errorf("second handler saw %v, want [2]", got)
	}
}

func TestConfigWatcher_ErrorHandler(t *testing.T) {
	errorReceived := make(chan error, 1)
	w, path := startWatcher(t, "buffers = 1\n",
		WithErrorHandler[captureSettings](func(err error) { errorReceived <- err }))
	configReceived := make(chan captureSettings, 1)
	w.OnReload(func(cfg captureSettings) { configReceived <- cfg })
	run(t, w)

	if err := os.WriteFile(path, []byte("invalid toml [[["), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-errorReceived:
	case <-configReceived:
		t.Fatal("config handler should not be called on error")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}

func TestConfigWatcher_Debounce(t *testing.T) {
	w, path := startWatcher(t, "buffers = 0\n", WithDebounce[captureSettings](200*time.Millisecond))
	var count, last atomic.Int32
	w.OnReload(func(cfg captureSettings) {
		count.Add(1)
		last.Store(int32(cfg.Buffers))
	})
	run(t, w)

	for i := 1; i <= 5; i++ {
		if err := os.WriteFile(path, fmt.Appendf(nil, "buffers = %d\n", i), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("expected 1 debounced call, got %d", got)
	}
	if got := last.Load(); got != 5 {
		t.Errorf("expected final value 5, got %d", got)
	}
}

func TestConfigWatcher_ContextCancel(t *testing.T) {
	path := writeTemp(t, "buffers = 1\n")
	w := NewConfigWatcher(path, loadCaptureSettings, newTestLogger(), WithDebounce[captureSettings](20*time.Millisecond))
	var count atomic.Int32
	w.OnReload(func(captureSettings) { count.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}
	cancel()
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(path, []byte("buffers = 9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("expected 0 calls after cancel, got %d", got)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop after cancel: %v", err)
	}
}

func TestConfigWatcher_StopBeforeStart(t *testing.T) {
	w := NewConfigWatcher("unused.toml", loadCaptureSettings, nil)
	if err := w.Stop(); err != nil {
		t.Errorf("Stop on an unstarted watcher: %v", err)
	}
}

func TestWatchLogging(t *testing.T) {
	logging.Initialize(logging.Config{Level: "info", Format: "text"})
	logger := logging.GetLogger("capture")

	path := writeTemp(t, "[logging]\nlevel = \"info\"\n")
	w, err := WatchLogging(context.Background(), path, newTestLogger())
	if err != nil {
		t.Fatalf("WatchLogging() error: %v", err)
	}
	defer w.Stop()
	time.Sleep(50 * time.Millisecond)

	// WatchLogging uses the default debounce
	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"info\"\n\n[logging.modules]\ncapture = \"debug\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(DefaultDebounce + 2*time.Second)
	for time.Now().Before(deadline) {
		if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("capture logger did not switch to debug after the config changed")
}
