package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// LoadRuleSet builds a rule set from a YAML rules file, or from the
// built-in defaults when path is empty.
func LoadRuleSet(path string) (*RuleSet, error) {
	cfg := DefaultRuleConfig()
	if path != "" {
		loaded, err := LoadRuleConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	return BuildRuleSet(cfg)
}

// Watcher reloads the engine's rule set when the rules file changes.
// A file that fails to load leaves the current snapshot in place.
type Watcher struct {
	path     string
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger
	onReload func(*RuleSet)

	watcher *fsnotify.Watcher
	timer   *time.Timer
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
	mu      sync.Mutex
}

// NewWatcher creates a new Watcher for path. onReload, if set, is called after each successful swap.
func NewWatcher(path string, engine *Engine, interval time.Duration, logger *zap.Logger, onReload func(*RuleSet)) *Watcher {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Watcher{
		path:     path,
		engine:   engine,
		interval: interval,
		logger:   logger,
		onReload: onReload,
	}
}

// Reload loads the rules file and swaps it into the engine
func (w *Watcher) Reload() error {
	rs, err := LoadRuleSet(w.path)
	if err != nil {
		w.engine.recorder.ObserveReload("", 0, err)
		return fmt.Errorf("failed to load rules from %s: %w", w.path, err)
	}
	if err := w.engine.Reload(rs); err != nil {
		return err
	}
	if w.onReload != nil {
		w.onReload(rs)
	}
	return nil
}

// Start watches the directory of the rules file, so editors that replace the
// file by rename are still observed. It returns once the watch is registered.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("rules watcher already running")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	w.watcher = fw
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	go w.loop(ctx)

	w.logger.Info("watching policy rules file", zap.String("path", w.path))
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target || event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			w.logger.Debug("rules file event", zap.String("op", event.Op.String()))
			w.trigger()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("rules watcher error", zap.Error(err))
		}
	}
}

// trigger debounces bursts of write events into a single reload.
// No reload is scheduled or run once Stop has been called.
func (w *Watcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.interval, func() {
		w.mu.Lock()
		running := w.running
		w.mu.Unlock()
		if !running {
			return
		}
		if err := w.Reload(); err != nil {
			w.logger.Error("policy rules reload failed, keeping previous rule set", zap.Error(err))
		}
	})
}

// Stop stops watching and cancels a pending reload
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}
