// Package watcher watches the configuration file and triggers hot reloads.
// It supports cross-platform fsnotify event handling.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/router-for-me/wearsync/internal/config"
)

const (
	configReloadDebounce = 150 * time.Millisecond
)

// Watcher reloads the configuration file when its content changes.
type Watcher struct {
	configPath        string
	config            *config.Config
	configMu          sync.RWMutex
	configReloadMu    sync.Mutex
	configReloadTimer *time.Timer
	reloadCallback    func(oldCfg, newCfg *config.Config)
	watcher           *fsnotify.Watcher
	lastConfigHash    string
}

// NewWatcher creates a new file watcher instance. reloadCallback runs after
// every successful reload with the previous and the new configuration.
func NewWatcher(configPath string, reloadCallback func(oldCfg, newCfg *config.Config)) (*Watcher, error) {
	watcher, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}
	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}
	return &Watcher{
		configPath:     configPath,
		reloadCallback: reloadCallback,
		watcher:        watcher,
	}, nil
}

// Start begins watching the configuration file.
func (w *Watcher) Start(ctx context.Context) error {
	return w.start(ctx)
}

// Stop stops the file watcher
func (w *Watcher) Stop() error {
	w.stopConfigReloadTimer()
	return w.watcher.Close()
}

// SetConfig records the configuration currently in effect and its file hash.
func (w *Watcher) SetConfig(cfg *config.Config) {
	hash, _ := fileHash(w.configPath)
	w.configMu.Lock()
	defer w.configMu.Unlock()
	w.config = cfg
	w.lastConfigHash = hash
}

// Config returns the configuration currently in effect.
func (w *Watcher) Config() *config.Config {
	w.configMu.RLock()
	defer w.configMu.RUnlock()
	return w.config
}
