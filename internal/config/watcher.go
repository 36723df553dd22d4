package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/KilimcininKorOglu/obadir/internal/logging"
)

// ConfigWatcher watches a config file for changes and triggers reload.
// Only configurations that load and validate are delivered to OnChange.
type ConfigWatcher struct {
	filePath   string
	debounce   time.Duration
	lastConfig *Config
	onChange   func(oldCfg, newCfg *Config)
	logger     logging.Logger
	watcher    *fsnotify.Watcher
	stopCh     chan struct{}
	stoppedCh  chan struct{}
	mu         sync.Mutex
	running    bool
}

// WatcherConfig holds config watcher configuration.
type WatcherConfig struct {
	FilePath string
	Debounce time.Duration // Default: 200ms
	OnChange func(oldCfg, newCfg *Config)
	Logger   logging.Logger
}

// NewConfigWatcher creates a new config file watcher. The file's directory
// is watched so that editors replacing the file by rename are observed.
func NewConfigWatcher(cfg *WatcherConfig) (*ConfigWatcher, error) {
	if cfg.FilePath == "" {
		return nil, ErrMissingConfigFile
	}
	if cfg.OnChange == nil {
		return nil, ErrMissingOnChange
	}

	debounce := cfg.Debounce
	if debounce == 0 {
		debounce = 200 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	initialConfig, err := LoadConfig(cfg.FilePath)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(cfg.FilePath)); err != nil {
		fw.Close()
		return nil, err
	}

	return &ConfigWatcher{
		filePath:   filepath.Clean(cfg.FilePath),
		debounce:   debounce,
		lastConfig: initialConfig,
		onChange:   cfg.OnChange,
		logger:     logger,
		watcher:    fw,
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}, nil
}

// Start begins watching the config file for changes.
func (w *ConfigWatcher) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.watchLoop()
}

// Stop stops watching the config file and releases the underlying watcher.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.stoppedCh
	w.watcher.Close()
}

func (w *ConfigWatcher) watchLoop() {
	defer close(w.stoppedCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.filePath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.debounce)
			debounceCh = debounceTimer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-debounceCh:
			w.triggerReload()
			debounceTimer = nil
			debounceCh = nil
		}
	}
}

// triggerReload loads the new config and calls onChange.
func (w *ConfigWatcher) triggerReload() {
	newConfig, err := LoadConfig(w.filePath)
	if err != nil {
		w.logger.Warn("config reload failed", "path", w.filePath, "error", err)
		return
	}

	if errs := ValidateConfig(newConfig); len(errs) > 0 {
		w.logger.Warn("config reload rejected", "path", w.filePath, "error", errs[0], "errors", len(errs))
		return
	}

	w.mu.Lock()
	oldConfig := w.lastConfig
	w.lastConfig = newConfig
	w.mu.Unlock()

	w.onChange(oldConfig, newConfig)
}

// IsRunning returns true if the watcher is running.
func (w *ConfigWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// GetCurrentConfig returns the last loaded config.
func (w *ConfigWatcher) GetCurrentConfig() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastConfig
}
