package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"torrentsready/internal/testutil"
	"torrentsready/internal/trd"
	"torrentsready/internal/watch"
)

func dropFile(t *testing.T, dir string, mid, name string, data []byte) string {
	t.Helper()
	userDir := filepath.Join(dir, mid)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		t.Fatalf("creating user folder: %v", err)
	}
	path := filepath.Join(userDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing dropped file: %v", err)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestWatcher_ProcessFile(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessConfig{})
	mid := h.StartUser(t, 42)
	data, hash := testutil.TorrentFile(t, "album")
	h.SeedTorrent(hash, "album", 3, 4)

	dir := t.TempDir()
	w := watch.New(dir, h.Service, trd.NewNopLogger(), time.Millisecond)
	path := dropFile(t, dir, "42", "album.torrent", data)

	if err := w.ProcessFile(context.Background(), path); err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}
	if !exists(path+".done") || exists(path) {
		t.Error("processed file was not renamed to .done")
	}

	active, err := h.Service.ListActiveTorrents(context.Background(), mid)
	if err != nil {
		t.Fatalf("ListActiveTorrents() error = %v", err)
	}
	if len(active) != 1 || active[0].Selected != 2 || !active[0].IsProcessing {
		t.Errorf("ListActiveTorrents() = %+v, want one processing torrent with both files selected", active)
	}
}

func TestWatcher_ProcessFileFailures(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessConfig{})
	h.StartUser(t, 42)
	dir := t.TempDir()
	w := watch.New(dir, h.Service, trd.NewNopLogger(), time.Millisecond)

	tests := []struct {
		name string
		mid  string
		data []byte
	}{
		{"not a torrent", "42", []byte("garbage")},
		{"folder is not a messenger id", "inbox", []byte("garbage")},
		{"unknown user", "7", func() []byte { b, _ := testutil.TorrentFile(t, "other"); return b }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := dropFile(t, dir, tt.mid, "x.torrent", tt.data)
			if err := w.ProcessFile(context.Background(), path); err == nil {
				t.Fatal("ProcessFile() error = nil, want rejection")
			}
			if !exists(path+".failed") || !exists(path+".failed.txt") {
				t.Error("rejected file was not marked failed")
			}
		})
	}
}

func TestWatcher_Run(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessConfig{})
	h.StartUser(t, 42)
	h.StartUser(t, 43)
	first, firstHash := testutil.TorrentFile(t, "first")
	second, secondHash := testutil.TorrentFile(t, "second")
	h.SeedTorrent(firstHash, "first", 3)
	h.SeedTorrent(secondHash, "second", 3)

	dir := t.TempDir()
	// Present before the watcher starts.
	early := dropFile(t, dir, "42", "first.torrent", first)

	w := watch.New(dir, h.Service, trd.NewNopLogger(), 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, func() bool { return exists(early + ".done") })

	late := dropFile(t, dir, "43", "second.torrent", second)
	waitFor(t, func() bool { return exists(late + ".done") })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before the deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
