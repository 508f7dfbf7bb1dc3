package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 300 * time.Millisecond

// Watcher reloads a Normalizer whenever its rules file changes on disk.
type Watcher struct {
	normalizer *Normalizer
	logger     *slog.Logger
	fsWatcher  *fsnotify.Watcher
	onReload   func(rules int, err error)

	cancel    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Watch starts watching the directory that holds the normalizer's rules
// file. Editors often replace files on save, so the file itself is not
// watched directly. onReload may be nil.
func Watch(normalizer *Normalizer, logger *slog.Logger, onReload func(rules int, err error)) (*Watcher, error) {
	if normalizer == nil || normalizer.Path() == "" {
		return nil, errors.New("rules watcher needs a rules file path")
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create rules watcher: %w", err)
	}
	dir := filepath.Dir(normalizer.Path())
	if err := fsW.Add(dir); err != nil {
		_ = fsW.Close()
		return nil, fmt.Errorf("watch %q: %w", dir, err)
	}

	w := &Watcher{
		normalizer: normalizer,
		logger:     logger,
		fsWatcher:  fsW,
		onReload:   onReload,
		cancel:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.cancel)
		err = w.fsWatcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)

	target := filepath.Clean(w.normalizer.Path())
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.cancel:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, w.reload)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rules watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	select {
	case <-w.cancel:
		return
	default:
	}

	err := w.normalizer.Reload()
	if err != nil {
		w.logger.Warn("rules reload failed, keeping previous rules", "path", w.normalizer.Path(), "error", err)
	} else {
		w.logger.Info("rules reloaded", "path", w.normalizer.Path(), "rules", w.normalizer.Len())
	}
	if w.onReload != nil {
		w.onReload(w.normalizer.Len(), err)
	}
}
