package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors produce on save.
const reloadDebounce = 250 * time.Millisecond

// ChangeFunc is called after a successful reload with the previous and new
// config.
type ChangeFunc func(old, cur *Config)

// Watcher reloads the config file when it changes on disk and publishes the
// result through a Holder. Invalid edits are logged and ignored, so the
// last good config stays in effect.
type Watcher struct {
	holder   *Holder
	load     func(path string) (*Config, error)
	onChange ChangeFunc
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher creates a Watcher for the file at holder.Path().
func NewWatcher(holder *Holder, onChange ChangeFunc, logger *slog.Logger) *Watcher {
	return &Watcher{
		holder:   holder,
		load:     LoadOrDefault,
		onChange: onChange,
		logger:   logger,
		debounce: reloadDebounce,
	}
}

// Run watches until ctx is canceled. The parent directory is watched rather
// than the file so atomic rename-on-save is seen.
func (w *Watcher) Run(ctx context.Context) error {
	path := w.holder.Path()
	if path == "" {
		return errors.New("config: watcher has no config path")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("config: watching %s: %w", dir, err)
	}

	w.logger.Debug("watching config file", slog.String("path", path))

	return w.loop(ctx, fw.Events, fw.Errors, filepath.Clean(path))
}

func (w *Watcher) loop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, path string) error {
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != path {
				continue
			}

			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				timer.Reset(w.debounce)
			}

		case watchErr, ok := <-errs:
			if !ok {
				return nil
			}

			w.logger.Warn("config watcher error", slog.String("error", watchErr.Error()))

		case <-timer.C:
			w.reload(path)
		}
	}
}

func (w *Watcher) reload(path string) {
	cfg, err := w.load(path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return
	}

	old := w.holder.Config()
	w.holder.Update(cfg)

	w.logger.Info("config reloaded", slog.String("path", path))

	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}
