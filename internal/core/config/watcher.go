package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/colonyops/hivesync/internal/core/logging"
)

const debounceDelay = 100 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands every
// successfully loaded config to onChange. Invalid edits are logged and
// skipped so the running daemon keeps its last good config.
type Watcher struct {
	path     string
	dataDir  string
	onChange func(*Config)
}

// NewWatcher creates a watcher for the config at path.
func NewWatcher(path, dataDir string, onChange func(*Config)) *Watcher {
	return &Watcher{path: path, dataDir: dataDir, onChange: onChange}
}

// Run watches until ctx is cancelled. The parent directory is watched so
// editors that replace the file by rename are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	log := logging.Component("config-watcher")

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(w.path)
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			debounce.Reset(debounceDelay)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("config watcher error")
		case <-debounce.C:
			cfg, err := Load(w.path, w.dataDir)
			if err != nil {
				log.Warn().Err(err).Str("path", w.path).Msg("ignoring invalid config change")
				continue
			}
			log.Info().Str("path", w.path).Msg("config reloaded")
			w.onChange(cfg)
		}
	}
}
