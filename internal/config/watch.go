package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch reloads path whenever it is written or replaced and hands each valid
// result to apply. Invalid edits are logged and skipped. The parent directory
// is watched so editors that rename over the file are seen. Watch blocks until
// ctx is done.
func Watch(ctx context.Context, path string, apply func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config watch %s: %w", target, err)
	}
	logger := log.Logger.With().Str("component", "config").Logger()
	logger.Debug().Msgf("config.Watch path=%s", target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(target)
			if err != nil {
				logger.Warn().Err(err).Msgf("config.Watch reload rejected path=%s", target)
				continue
			}
			logger.Info().Msgf("config.Watch reloaded path=%s op=%s", target, ev.Op)
			apply(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("config.Watch watcher error")
		}
	}
}
