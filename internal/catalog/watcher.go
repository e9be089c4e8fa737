package catalog

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"kompass/internal/logging"
)

// Watcher hot-reloads the catalog file when an operator edits it.
// Editors often emit several write events per save, so reloads are
// debounced.
type Watcher struct {
	registry *Registry
	path     string
	handlers HandlerMap
	debounce time.Duration

	fw *fsnotify.Watcher
}

// NewWatcher starts watching the catalog file. Call Run to process
// events and Close to stop.
func NewWatcher(registry *Registry, path string, handlers HandlerMap) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		registry: registry,
		path:     path,
		handlers: handlers,
		debounce: 250 * time.Millisecond,
		fw:       fw,
	}, nil
}

// Run processes filesystem events until the context is canceled.
func (w *Watcher) Run(ctx context.Context) {
	log := logging.Get(logging.CategoryCatalog)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Warn("catalog watch error: %v", err)
		case <-timerC:
			timerC = nil
			timer = nil
			if err := w.registry.Reload(w.path, w.handlers); err != nil {
				// Keep serving the previous catalog on a bad edit.
				log.Error("catalog reload failed, keeping previous: %v", err)
				continue
			}
			log.Info("catalog reloaded: version=%s", w.registry.Version())
		}
	}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fw.Close()
}
