package dev

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// WatcherConfig configures the manifest watcher.
type WatcherConfig struct {
	// Path is the manifest file to watch.
	Path string

	// Interval is how often the file is checked.
	Interval time.Duration

	Logger *slog.Logger
}

// Watcher polls the manifest file and reports every new, parseable
// version of it. Compilers rewrite the manifest in place, so a parse
// failure is treated as a partial write and retried on the next tick.
type Watcher struct {
	config   WatcherConfig
	logger   *slog.Logger
	onChange func(*Manifest)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	modTime time.Time
	size    int64
	last    []byte
}

// NewWatcher creates a new manifest watcher.
func NewWatcher(config WatcherConfig) *Watcher {
	if config.Interval <= 0 {
		config.Interval = 250 * time.Millisecond
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		config: config,
		logger: logger.With("component", "dev.watcher"),
	}
}

// OnChange sets the callback for manifest changes.
func (w *Watcher) OnChange(fn func(*Manifest)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Prime records data as the current manifest contents so that only later
// writes are reported.
func (w *Watcher) Prime(data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = append([]byte(nil), data...)
	if info, err := os.Stat(w.config.Path); err == nil {
		w.modTime = info.ModTime()
		w.size = info.Size()
	}
}

// Start polls until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.markStopped(stopCh)
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-ticker.C:
			w.check()
		}
	}
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		close(w.stopCh)
		w.running = false
	}
}

func (w *Watcher) markStopped(stopCh chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running && w.stopCh == stopCh {
		close(w.stopCh)
		w.running = false
	}
}

// IsRunning returns whether the watcher is running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// check reads the manifest if its stat changed and reports new contents.
func (w *Watcher) check() {
	info, err := os.Stat(w.config.Path)
	if err != nil {
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.modTime) && info.Size() == w.size
	w.mu.Unlock()
	if unchanged {
		return
	}

	data, err := os.ReadFile(w.config.Path)
	if err != nil {
		return
	}

	w.mu.Lock()
	if bytes.Equal(data, w.last) {
		w.modTime = info.ModTime()
		w.size = info.Size()
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	m, err := ParseManifest(data)
	if err != nil {
		w.logger.Debug("manifest not ready", "path", w.config.Path, "error", err)
		return
	}

	w.mu.Lock()
	w.modTime = info.ModTime()
	w.size = info.Size()
	w.last = data
	callback := w.onChange
	w.mu.Unlock()

	if callback != nil {
		callback(m)
	}
}
