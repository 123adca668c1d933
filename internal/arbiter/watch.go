package arbiter

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the arbiter's matrix when the backing YAML file
// changes on disk. A reload that fails to parse keeps the previous
// matrix in place.
type Watcher struct {
	arbiter *Arbiter
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching the matrix file and swapping reloaded matrices
// into the arbiter. Close stops the watch.
func Watch(a *Arbiter, path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files on save, which drops a
	// watch held on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		arbiter: a,
		path:    path,
		watcher: fsw,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			matrix, err := LoadMatrix(w.path)
			if err != nil {
				log.Printf("[arbiter] matrix reload failed, keeping previous: %v", err)
				continue
			}
			w.arbiter.ReplaceMatrix(matrix)
			log.Printf("[arbiter] authority matrix reloaded from %s", w.path)
		case <-w.watcher.Errors:
			// Keep watching.
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() {
	close(w.done)
	w.watcher.Close()
}
