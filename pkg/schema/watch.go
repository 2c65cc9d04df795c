package schema

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/linq2js/remos/pkg/model"
)

// DefaultDebounce is the delay between the last file event and a reload.
// Editors often replace files with several rapid events; debouncing turns
// the burst into one reload.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reloads a declarative definition file whenever it changes on
// disk. The parent directory is watched, not the file itself, so atomic
// replace-by-rename saves are picked up.
//
// Run delivers definitions on the watcher's own goroutine. The model engine
// is single-threaded, so do not call schema.Apply from the callback
// directly unless the host serializes it onto the mutation thread.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	debounce time.Duration
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides the reload debounce interval.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher creates a watcher for one definition file.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:     path,
		fsw:      fsw,
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run blocks until the context is cancelled or the watcher is closed,
// invoking onChange with each freshly parsed definition. Load and parse
// failures are delivered through the same callback with a nil definition,
// so a transiently broken file never stops the watch.
func (w *Watcher) Run(ctx context.Context, onChange func(model.Definition, error)) error {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	base := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			onChange(nil, err)
		case <-timer.C:
			onChange(Load(w.path))
		}
	}
}

// Close releases the underlying filesystem watcher. Run returns after
// Close.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
