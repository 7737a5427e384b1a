package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultReloadDelay is how long the config file must stay quiet before it
// is reloaded.
const DefaultReloadDelay = 100 * time.Millisecond

// ReloadFunc receives the reloaded config, or the error that prevented it.
type ReloadFunc func(cfg *Config, err error)

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	loader   *Loader
	path     string
	delay    time.Duration
	onReload ReloadFunc

	watcher  *fsnotify.Watcher
	done     chan struct{}
	timer    *time.Timer
	timerMu  sync.Mutex
	stopOnce sync.Once
}

// Watch starts watching the loader's config file. Editors often replace a
// file instead of writing it, so the parent directory is watched and events
// are filtered by name. Bursts of events trigger a single reload.
func (l *Loader) Watch(onReload ReloadFunc) (*Watcher, error) {
	return l.WatchWithDelay(DefaultReloadDelay, onReload)
}

// WatchWithDelay is Watch with a custom debounce delay.
func (l *Loader) WatchWithDelay(delay time.Duration, onReload ReloadFunc) (*Watcher, error) {
	path := l.GetConfigPath()
	if path == "" {
		return nil, fmt.Errorf("no config file to watch")
	}
	if onReload == nil {
		return nil, fmt.Errorf("reload callback is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	if delay <= 0 {
		delay = DefaultReloadDelay
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		loader:   NewLoader(abs, WithEnvFile(l.envFile)),
		path:     abs,
		delay:    delay,
		onReload: onReload,
		watcher:  fw,
		done:     make(chan struct{}),
	}
	go w.eventLoop()

	log.Debug().Str("path", abs).Msg("Config watcher started")
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Stop stops the watcher. Pending reloads are dropped.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.timerMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, func() {
		w.timerMu.Lock()
		w.timer = nil
		w.timerMu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}

		cfg, err := w.loader.Load()
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			log.Warn().Err(err).Str("path", w.path).Msg("Config reload failed")
			w.onReload(nil, err)
			return
		}
		log.Info().Str("path", w.path).Msg("Config reloaded")
		w.onReload(cfg, nil)
	})
}
