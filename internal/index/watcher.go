package index

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceTime batches rapid filesystem events before reindexing.
const debounceTime = 500 * time.Millisecond

// watcher keeps the index in sync with filesystem changes.
type watcher struct {
	ix *Index
	fs *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]bool

	done chan struct{}
	wg   sync.WaitGroup
}

// Watch starts tracking filesystem changes under the project root. Events
// are debounced and applied to the index in the background until Close.
func (ix *Index) Watch() error {
	if ix.watch != nil {
		return nil
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &watcher{
		ix:      ix,
		fs:      fs,
		pending: make(map[string]bool),
		done:    make(chan struct{}),
	}

	// Watch every non-ignored directory; fsnotify is not recursive.
	filepath.WalkDir(ix.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, rerr := filepath.Rel(ix.root, path)
		if rerr != nil {
			return nil
		}
		if rel != "." && ix.ignore.MatchesPath(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if werr := fs.Add(path); werr != nil {
				log.Printf("⚠️  Failed to watch %s: %v", path, werr)
			}
		}
		return nil
	})

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()

	ix.watch = w
	return nil
}

func (w *watcher) stop() {
	close(w.done)
	w.wg.Wait()
	w.fs.Close()
}

func (w *watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  Watcher error: %v", err)
		}
	}
}

func (w *watcher) handleEvent(event fsnotify.Event) {
	rel, err := filepath.Rel(w.ix.root, event.Name)
	if err != nil {
		return
	}
	if w.ix.ignore.MatchesPath(rel) {
		return
	}

	// New directories must be added to the watch set.
	if event.Has(fsnotify.Create) {
		if info, serr := os.Stat(event.Name); serr == nil && info.IsDir() {
			if werr := w.fs.Add(event.Name); werr != nil {
				log.Printf("⚠️  Failed to watch new directory %s: %v", event.Name, werr)
			}
			return
		}
	}

	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.mu.Lock()
		w.pending[rel] = true
		w.mu.Unlock()
	}
}

func (w *watcher) debounceLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.flush()
		}
	}
}

// flush reindexes everything that changed since the last tick.
func (w *watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	w.ix.reindex(paths)
}
