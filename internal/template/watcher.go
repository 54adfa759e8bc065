package template

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Change is one streamed template notification. Meta is nil when the file
// was removed or failed to parse.
type Change struct {
	Path    string
	Meta    *Metadata
	Removed bool
}

// Watcher turns file events under a template directory into Changes. Files
// are parsed on the watcher goroutine; the tick goroutine drains Changes and
// applies them to the Store.
type Watcher struct {
	dir     string
	fsw     *fsnotify.Watcher
	changes chan Change
	stopCh  chan struct{}
	log     *zap.Logger
}

func NewWatcher(dir string, queueSize int, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch template dir %s: %w", dir, err)
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	w := &Watcher{
		dir:     dir,
		fsw:     fsw,
		changes: make(chan Change, queueSize),
		stopCh:  make(chan struct{}),
		log:     log,
	}
	go w.loop()
	log.Info("watching templates", zap.String("dir", dir))
	return w, nil
}

// Changes is the channel the input system drains.
func (w *Watcher) Changes() <-chan Change { return w.changes }

// Close stops the watcher goroutine.
func (w *Watcher) Close() error {
	close(w.stopCh)
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !IsTemplateFile(ev.Name) {
				continue
			}
			path := filepath.Clean(ev.Name)
			switch {
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.push(Change{Path: path, Removed: true})
			case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
				meta, err := LoadFile(path)
				if err != nil {
					// Half-written files are common; the next write retries.
					w.log.Warn("template reload failed", zap.String("file", path), zap.Error(err))
					continue
				}
				w.push(Change{Path: path, Meta: meta})
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("template watcher error", zap.Error(err))
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) push(c Change) {
	select {
	case w.changes <- c:
	case <-w.stopCh:
	}
}

// Apply folds one change into the store.
func (s *Store) Apply(c Change) {
	if c.Removed || c.Meta == nil {
		s.RemoveSource(c.Path)
		return
	}
	s.Add(c.Meta, c.Path)
}
