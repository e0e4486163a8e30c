package filter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch modes.
const (
	WatchPoll   = "poll"
	WatchNotify = "notify"
)

// Watcher reloads a Filter when its document changes on disk. A change is a
// different modification time or size than at the last check.
type Watcher struct {
	filter   *Filter
	interval time.Duration
	mode     string
	logger   zerolog.Logger

	modTime time.Time
	size    int64
}

// NewWatcher watches the document of f. Poll mode checks every interval;
// notify mode reacts to filesystem events and, with a positive interval,
// also polls.
func NewWatcher(f *Filter, interval time.Duration, mode string, logger zerolog.Logger) (*Watcher, error) {
	if f.Path() == "" {
		return nil, fmt.Errorf("filter has no document path to watch")
	}
	switch mode {
	case "", WatchPoll:
		mode = WatchPoll
		if interval <= 0 {
			return nil, fmt.Errorf("poll watch mode requires a positive interval")
		}
	case WatchNotify:
	default:
		return nil, fmt.Errorf("unknown watch mode %q (expected %s or %s)", mode, WatchPoll, WatchNotify)
	}

	w := &Watcher{
		filter:   f,
		interval: interval,
		mode:     mode,
		logger:   logger.With().Str("component", "watcher").Str("path", f.Path()).Logger(),
	}
	if info, err := os.Stat(f.Path()); err == nil {
		w.modTime, w.size = info.ModTime(), info.Size()
	}
	return w, nil
}

// Check reloads the filter if the document changed since the last check and
// reports whether a reload was attempted.
func (w *Watcher) Check(ctx context.Context) (bool, error) {
	info, err := os.Stat(w.filter.Path())
	if err != nil {
		return false, err
	}
	if info.ModTime().Equal(w.modTime) && info.Size() == w.size {
		return false, nil
	}
	w.modTime, w.size = info.ModTime(), info.Size()
	w.logger.Info().Time("mtime", w.modTime).Msg("document changed, reloading")
	return true, w.filter.Reload(ctx)
}

// Run watches until ctx is done. Reload failures are logged by the filter
// and never stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.mode == WatchNotify {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create fsnotify watcher: %w", err)
		}
		defer fw.Close()
		// Editors replace files by rename, so watch the directory.
		if err := fw.Add(filepath.Dir(w.filter.Path())); err != nil {
			return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.filter.Path()), err)
		}
		events, errs = fw.Events, fw.Errors
	}

	target := filepath.Clean(w.filter.Path())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			w.check(ctx)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == target && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.check(ctx)
			}
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("fsnotify error")
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	if _, err := w.Check(ctx); err != nil && os.IsNotExist(err) {
		w.logger.Debug().Msg("document missing, waiting")
	}
}
