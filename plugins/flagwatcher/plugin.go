// Package flagwatcher re-applies persisted instance flags when the flag
// file changes on disk.
package flagwatcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/pnpcoord/pkg/device"
	"github.com/bft-labs/pnpcoord/pkg/log"
)

// ErrNoPath is returned by Initialize when no flag file is configured.
var ErrNoPath = errors.New("flagwatcher: flag file path is required")

// Plugin watches a flag file and calls the instance's ApplyFlags after
// each change.
type Plugin struct {
	mu sync.Mutex

	// Configuration
	path          string
	debounceDelay time.Duration
	retryInitial  time.Duration
	retryMax      time.Duration

	// Runtime state
	apply    func(ctx context.Context) error
	logger   log.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
	applied  int
}

// Config holds configuration options for the flag watcher plugin.
type Config struct {
	// Path is the flag file to watch.
	Path string

	// DebounceDelay is the delay to wait after a change before applying.
	// Default: 100 milliseconds
	DebounceDelay time.Duration

	// RetryInitial is the first delay between retries when applying fails.
	// Default: 500 milliseconds
	RetryInitial time.Duration

	// RetryMax caps the delay between retries.
	// Default: 10 seconds
	RetryMax time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 100 * time.Millisecond,
		RetryInitial:  500 * time.Millisecond,
		RetryMax:      10 * time.Second,
	}
}

// New creates a new flag watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	d := DefaultConfig()
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = d.DebounceDelay
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = d.RetryInitial
	}
	if cfg.RetryMax < cfg.RetryInitial {
		cfg.RetryMax = d.RetryMax
	}

	return &Plugin{
		path:          cfg.Path,
		debounceDelay: cfg.DebounceDelay,
		retryInitial:  cfg.RetryInitial,
		retryMax:      cfg.RetryMax,
		logger:        log.NewNoopLogger(),
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "flagwatcher"
}

// Initialize starts watching the flag file.
func (p *Plugin) Initialize(ctx context.Context, cfg device.PluginConfig) error {
	if p.path == "" {
		return ErrNoPath
	}

	p.mu.Lock()
	p.apply = cfg.ApplyFlags
	p.logger = log.With(log.OrNoop(cfg.Logger), log.String("plugin", p.Name()))
	p.mu.Unlock()

	if cfg.Flags == nil || p.apply == nil {
		p.logger.Warn("flag watcher disabled: instance has no flag store")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// The directory is watched so atomic replace-by-rename is seen.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return err
	}

	// The watcher outlives the Initialize call.
	watchCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.logger.Info("flag watcher plugin initialized", log.String("path", p.path))

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)

	return nil
}

// Shutdown stops the watcher and any pending apply.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Lock()
	p.stopDebounceLocked()
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

// Applied returns how many times the flags were applied successfully.
func (p *Plugin) Applied() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applied
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p.debounceApply(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("flag watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceApply(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopDebounceLocked()

	p.wg.Add(1)
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		defer p.wg.Done()
		p.applyWithRetry(ctx)
	})
}

// stopDebounceLocked cancels a pending apply that has not started yet.
func (p *Plugin) stopDebounceLocked() {
	if p.debounce != nil && p.debounce.Stop() {
		p.wg.Done()
	}
	p.debounce = nil
}

// applyWithRetry retries until success or context cancellation.
func (p *Plugin) applyWithRetry(ctx context.Context) {
	b := newBackoff(p.retryInitial, p.retryMax)
	for attempt := 1; ; attempt++ {
		err := p.apply(ctx)
		if err == nil {
			p.mu.Lock()
			p.applied++
			p.mu.Unlock()
			p.logger.Info("flags applied", log.Int("attempts", attempt))
			return
		}

		p.logger.Warn("applying flags failed", log.Err(err), log.Int("attempt", attempt))
		if !b.wait(ctx) {
			p.logger.Info("flag watcher: stopping retry due to context cancellation")
			return
		}
	}
}

// Ensure Plugin implements device.Plugin.
var _ device.Plugin = (*Plugin)(nil)
