package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRefWatcher_FiresOnRefChange(t *testing.T) {
	dir := t.TempDir()
	refsDir := filepath.Join(dir, ".git", "refs", "heads")
	if err := os.MkdirAll(refsDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	rw := NewRefWatcher(dir)
	defer rw.Close()

	if err := os.WriteFile(filepath.Join(refsDir, "task-t1"), []byte("deadbeef\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case <-rw.Notify():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the ref watcher to fire")
	}
}

func TestRefWatcher_MissingGitDirNeverFiresButNeverPanics(t *testing.T) {
	dir := t.TempDir() // no .git subdirectory at all
	rw := NewRefWatcher(dir)
	defer rw.Close()

	select {
	case <-rw.Notify():
		t.Fatal("expected no notification without a watchable .git directory")
	case <-time.After(200 * time.Millisecond):
	}
}
