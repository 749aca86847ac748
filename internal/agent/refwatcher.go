package agent

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RefWatcher watches the repository's .git directory and .git/refs/heads
// for changes so the claim loop can notice the implementer's commit
// faster than the poll interval alone would. It is a supplement to
// polling, never a replacement — a watch that fails to start (or a
// missed event under heavy fs churn) must not stall the wait.
type RefWatcher struct {
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	ch      chan struct{}
}

// NewRefWatcher watches the .git directory of repoDir for ref updates.
// If fsnotify setup fails, it returns a RefWatcher whose channel simply
// never fires, leaving callers entirely on their poll loop.
func NewRefWatcher(repoDir string) *RefWatcher {
	rw := &RefWatcher{ch: make(chan struct{}, 1)}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return rw
	}
	rw.watcher = w

	gitDir := filepath.Join(repoDir, ".git")
	_ = w.Add(gitDir)
	_ = w.Add(filepath.Join(gitDir, "refs", "heads"))

	go rw.loop()
	return rw
}

func (rw *RefWatcher) loop() {
	debounce := time.NewTimer(0)
	<-debounce.C
	pending := false

	for {
		select {
		case _, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if !pending {
				pending = true
				debounce.Reset(100 * time.Millisecond)
			}
		case <-debounce.C:
			if pending {
				pending = false
				select {
				case rw.ch <- struct{}{}:
				default:
				}
			}
		}
	}
}

// Notify fires (a buffered, lossy signal) whenever a watched ref file
// changes.
func (rw *RefWatcher) Notify() <-chan struct{} { return rw.ch }

func (rw *RefWatcher) Close() {
	if rw.watcher != nil {
		rw.watcher.Close()
	}
}
