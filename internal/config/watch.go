package config

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// LiveConfig holds a PipelineConfig that can be swapped atomically by a
// file watcher, so threshold changes (detector_confidence, reid_threshold,
// ...) take effect without a restart and without any in-flight worker
// ever observing a half-updated struct.
type LiveConfig struct {
	ptr atomic.Pointer[PipelineConfig]
}

// NewLiveConfig wraps an initial configuration.
func NewLiveConfig(initial *PipelineConfig) *LiveConfig {
	lc := &LiveConfig{}
	lc.ptr.Store(initial)
	return lc
}

// Get returns the currently effective configuration. The returned
// pointer must be treated as immutable by the caller; a reload replaces
// the pointer rather than mutating the struct it points to.
func (lc *LiveConfig) Get() *PipelineConfig {
	return lc.ptr.Load()
}

// Watch reloads path on every write event and swaps the live config if
// the new file parses and validates. A bad edit is logged and ignored;
// the previous valid configuration stays in effect. Watch blocks until
// the watcher is closed or the done channel is closed.
func Watch(path string, lc *LiveConfig, logger *logrus.Logger, done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logger.WithError(err).Warn("config reload failed, keeping previous configuration")
				continue
			}
			lc.ptr.Store(cfg)
			logger.Info("configuration reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("config watcher error")
		}
	}
}
