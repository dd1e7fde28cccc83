package cluster

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches the cluster config file and triggers a reload
// callback when it changes. Used by `dacluster start --foreground` to resize
// the engine pool without a manual restart.
type ConfigWatcher struct {
	configPath   string
	watcher      *fsnotify.Watcher
	reloadFunc   func(string) error
	logger       *slog.Logger
	mu           sync.RWMutex
	running      bool
	stopCh       chan struct{}
	debounceTime time.Duration
}

// NewConfigWatcher creates a watcher for the given config file.
func NewConfigWatcher(configPath string, reloadFunc func(string) error, logger *slog.Logger) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigWatcher{
		configPath: configPath,
		watcher:    watcher,
		reloadFunc: reloadFunc,
		logger:     logger,
		stopCh:     make(chan struct{}),
		// Editors often write in several bursts; collapse them into one reload.
		debounceTime: time.Second,
	}, nil
}

// Start begins watching. The parent directory is watched rather than the file
// itself, since editors typically replace files via rename.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	if cw.running {
		cw.mu.Unlock()
		return nil
	}
	cw.running = true
	cw.mu.Unlock()

	if err := cw.watcher.Add(filepath.Dir(cw.configPath)); err != nil {
		cw.mu.Lock()
		cw.running = false
		cw.mu.Unlock()
		return err
	}

	cw.logger.Info("Config watcher started", "config_path", cw.configPath)
	go cw.watchLoop(ctx)
	return nil
}

// Stop ends the watch.
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	if !cw.running {
		cw.mu.Unlock()
		return nil
	}
	cw.running = false
	cw.mu.Unlock()

	close(cw.stopCh)
	return cw.watcher.Close()
}

// IsRunning reports whether the watcher is active.
func (cw *ConfigWatcher) IsRunning() bool {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.running
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if !cw.isConfigFileEvent(event) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cw.logger.Debug("Config file event", "event", event.Op.String(), "file", event.Name)
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(cw.debounceTime, cw.triggerReload)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error("Config watcher error", "error", err)

		case <-cw.stopCh:
			cw.logger.Info("Config watcher stopped")
			return

		case <-ctx.Done():
			return
		}
	}
}

func (cw *ConfigWatcher) isConfigFileEvent(event fsnotify.Event) bool {
	eventPath, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	configPath, err := filepath.Abs(cw.configPath)
	if err != nil {
		return false
	}
	return eventPath == configPath
}

func (cw *ConfigWatcher) triggerReload() {
	cw.logger.Info("Config file changed, reloading", "config_path", cw.configPath)
	start := time.Now()
	if err := cw.reloadFunc(cw.configPath); err != nil {
		cw.logger.Error("Config reload failed", "error", err, "duration", time.Since(start))
		return
	}
	cw.logger.Info("Config reload complete", "duration", time.Since(start))
}
