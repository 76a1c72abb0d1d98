package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWatchInterval is the polling period of a [Watcher].
const DefaultWatchInterval = 5 * time.Second

// Watcher polls a config file and hands validated changes to a callback.
// An edit that fails to load or validate is logged once and skipped; the
// last good config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config, d ConfigDiff)

	current atomic.Pointer[Config]
	stamp   fileStamp // owned by the polling goroutine after NewWatcher

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// fileStamp identifies one version of the watched file.
type fileStamp struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onChange runs on the polling
// goroutine for every edit that changes the effective config, with the diff
// already computed; edits that only touch comments or formatting are
// dropped. A nil onChange only keeps [Watcher.Current] up to date.
func NewWatcher(path string, onChange func(old, new *Config, d ConfigDiff), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	stamp, data, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current.Store(cfg)
	w.stamp = stamp

	go w.run()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config { return w.current.Load() }

// Stop ends polling and waits for a running check to finish. It may be
// called more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

func (w *Watcher) run() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	if info.ModTime().Equal(w.stamp.mtime) && info.Size() == w.stamp.size {
		return
	}

	stamp, data, err := w.read()
	if err != nil {
		slog.Warn("config watcher: cannot read file", "path", w.path, "err", err)
		return
	}
	prev := w.stamp
	w.stamp = stamp
	if stamp.sum == prev.sum {
		return
	}

	next, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	old := w.current.Swap(next)
	d := Diff(old, next)
	if !d.Changed() {
		slog.Debug("config watcher: file changed, effective config did not", "path", w.path)
		return
	}
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"parameters", d.ParametersChanged,
		"vad", d.VADChanged,
		"log_level", d.LogLevelChanged,
		"restart_required", d.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(old, next, d)
	}
}

// read returns the file content and its stamp.
func (w *Watcher) read() (fileStamp, []byte, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return fileStamp{}, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fileStamp{}, nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return fileStamp{}, nil, err
	}
	return fileStamp{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, data, nil
}
