package flowsentry

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oarkflow/log"
)

// ConfigWatcher rebuilds the runtime configuration when files under the
// config directory change and delivers swap tokens to every registered
// analyzer, so reloads land at unit boundaries without stopping traffic.
type ConfigWatcher struct {
	configDir string
	registry  *OptionRegistry
	validator *DefaultConfigValidator
	logger    *log.Logger

	mu        sync.Mutex
	analyzers map[string]*Analyzer

	watcher *fsnotify.Watcher
	done    chan struct{}
	closed  sync.Once
}

// debounce window: editors fire several events per save.
const reloadDebounce = 250 * time.Millisecond

func NewConfigWatcher(configDir string, registry *OptionRegistry, logger *log.Logger) *ConfigWatcher {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &ConfigWatcher{
		configDir: configDir,
		registry:  registry,
		validator: NewDefaultConfigValidator(),
		logger:    logger,
		analyzers: make(map[string]*Analyzer),
		done:      make(chan struct{}),
	}
}

// Register adds an analyzer to the reload fan-out.
func (w *ConfigWatcher) Register(a *Analyzer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.analyzers[a.Source()] = a
}

// Start begins watching the configuration directory tree.
func (w *ConfigWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	for _, dir := range []string{
		w.configDir,
		filepath.Join(w.configDir, "rules"),
		filepath.Join(w.configDir, "magics"),
	} {
		// A missing subdirectory is fine; it just is not watched.
		if err := watcher.Add(dir); err != nil {
			w.logger.Debug().Str("dir", dir).Err(err).Msg("not watching")
		}
	}

	go w.loop()
	return nil
}

// Stop ends watching. Pending swaps already delivered stay pending.
func (w *ConfigWatcher) Stop() error {
	var err error
	w.closed.Do(func() {
		close(w.done)
		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})
	return err
}

func (w *ConfigWatcher) loop() {
	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("config watcher error")
		case <-pending:
			pending = nil
			if err := w.Reload(); err != nil {
				w.logger.Error().Err(err).Msg("config reload rejected, keeping active configuration")
			}
		}
	}
}

// Reload rebuilds the configuration and hands each analyzer a swap token. A
// configuration that fails to load, validate, or compile never displaces the
// running one.
func (w *ConfigWatcher) Reload() error {
	config, err := LoadConfig(w.configDir)
	if err != nil {
		return err
	}
	if err := w.validator.Validate(config); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for source, a := range w.analyzers {
		// One runtime per analyzer: each worker retires its displaced
		// configuration on its own schedule.
		runtime, err := BuildRuntime(config, w.registry)
		if err != nil {
			return err
		}

		src := source
		handle := NewConfigHandle(runtime, func(*RuntimeConfig) {
			w.logger.Debug().Str("source", src).Msg("configuration retired")
		})
		a.SetSwap(NewSwapToken(handle))
	}

	w.logger.Info().Int("analyzers", len(w.analyzers)).Msg("configuration reload dispatched")
	return nil
}
