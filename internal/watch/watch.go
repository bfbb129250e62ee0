// Package watch reports changes to a single source file.
package watch

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

var ErrClosed = errors.New("watcher is closed")

// Watcher calls onChange with the new contents of a file whenever it is
// written or replaced. Events are not coalesced; callers feed a debounced
// consumer.
type Watcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	path     string
	onChange func([]byte)
	log      *slog.Logger

	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// New starts watching path. The parent directory is watched so that editors
// which save by rename are followed.
func New(path string, onChange func([]byte), log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		path:     abs,
		onChange: onChange,
		log:      log.With("path", abs),
		closeCh:  make(chan struct{}),
	}
	w.closedWg.Add(1)
	go w.processLoop()
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.closedWg.Wait()
	return w.fsw.Close()
}

func (w *Watcher) processLoop() {
	defer w.closedWg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path {
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		// mid-rename; the Create that follows carries the content
		w.log.Debug("read after change failed", "error", err)
		return
	}
	w.log.Debug("source changed", "op", ev.Op.String(), "bytes", len(data))
	w.onChange(data)
}
