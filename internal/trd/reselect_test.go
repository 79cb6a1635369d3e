package trd_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"torrentsready/internal/testutil"
	"torrentsready/internal/trd"
)

// completeFile finishes one file of hash and writes it under SavePath.
func completeFile(t *testing.T, h *testutil.Harness, hash string, index int) {
	t.Helper()
	files, err := h.Engine.GetFiles(context.Background(), hash)
	if err != nil {
		t.Fatalf("GetFiles() error = %v", err)
	}
	for _, f := range files {
		if f.Index != index {
			continue
		}
		h.Engine.SetProgress(hash, index, 1)
		p := filepath.Join(h.SavePath, f.Name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("creating download dir: %v", err)
		}
		if err := os.WriteFile(p, []byte("data of "+f.Name), 0o644); err != nil {
			t.Fatalf("writing downloaded file: %v", err)
		}
		return
	}
	t.Fatalf("torrent %s has no file %d", hash, index)
}

func runCycle(t *testing.T, h *testutil.Harness) trd.CycleStats {
	t.Helper()
	stats, err := h.Reconciler.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	return stats
}

func TestReselect_QueuedDeliveryCarriesNewSelection(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessConfig{})
	ctx := context.Background()
	mid := h.StartUser(t, 11)
	h.Outbound.Allow(mid)
	hash := testutil.Hash(11)
	h.SeedTorrent(hash, "Pair", 10, 20)

	submitAndSelect(t, h, mid, hash, 0)
	completeFile(t, h, hash, 0)
	if stats := runCycle(t, h); stats.Enqueued != 1 {
		t.Fatalf("RunCycle() enqueued %d, want 1", stats.Enqueued)
	}

	submitAndSelect(t, h, mid, hash, 0, 1)
	tasks, err := h.Service.ListDeliveries(ctx)
	if err != nil {
		t.Fatalf("ListDeliveries() error = %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("ListDeliveries() = %d tasks after reselecting, want the stale one dropped", len(tasks))
	}

	// Not everything is ready yet.
	if stats := runCycle(t, h); stats.Enqueued != 0 {
		t.Errorf("RunCycle() enqueued %d before the second file finished", stats.Enqueued)
	}
	completeFile(t, h, hash, 1)
	runCycle(t, h)
	if task := onlyTask(t, h); len(task.ContentIDs) != 2 {
		t.Fatalf("task ContentIDs = %v, want both files", task.ContentIDs)
	}

	processOne(t, h)
	sent := h.Outbound.Sent()
	if len(sent) != 1 || !strings.HasSuffix(sent[0].Name, ".zip") {
		t.Fatalf("Sent() = %+v, want one archive", sent)
	}
	active, err := h.Service.ListActiveTorrents(ctx, mid)
	if err != nil {
		t.Fatalf("ListActiveTorrents() error = %v", err)
	}
	if len(active) != 0 || h.Engine.IsActive(hash) {
		t.Errorf("torrent still held after delivering the whole selection: %+v", active)
	}
}

func TestReselect_WhileInFlightKeepsTheRest(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessConfig{})
	ctx := context.Background()
	mid := h.StartUser(t, 12)
	h.Outbound.Allow(mid)
	hash := testutil.Hash(12)
	h.SeedTorrent(hash, "Pair", 10, 20)

	submitAndSelect(t, h, mid, hash, 0)
	completeFile(t, h, hash, 0)
	runCycle(t, h)

	task, err := h.DB.ClaimDelivery(ctx, h.Clock.Now())
	if err != nil || task == nil {
		t.Fatalf("ClaimDelivery() = %v, %v", task, err)
	}

	submitAndSelect(t, h, mid, hash, 0, 1)
	if got := onlyTask(t, h); got.ID != task.ID {
		t.Fatalf("in-flight task replaced: got #%d, want #%d", got.ID, task.ID)
	}

	outcome, err := h.Dispatcher.Deliver(ctx, trd.DeliveryRequest{
		UserID:     task.UserID,
		TorrentID:  task.TorrentID,
		ContentIDs: task.ContentIDs,
	})
	if err != nil || outcome != trd.Delivered {
		t.Fatalf("Deliver() = %v, %v, want delivered", outcome, err)
	}

	active, err := h.Service.ListActiveTorrents(ctx, mid)
	if err != nil {
		t.Fatalf("ListActiveTorrents() error = %v", err)
	}
	if len(active) != 1 || active[0].Selected != 1 {
		t.Fatalf("ListActiveTorrents() = %+v, want the torrent kept with one file left", active)
	}
	if !h.Engine.IsActive(hash) {
		t.Fatal("engine data removed while a file is still wanted")
	}

	completeFile(t, h, hash, 1)
	runCycle(t, h)
	next := onlyTask(t, h)
	if len(next.ContentIDs) != 1 || next.ContentIDs[0] == task.ContentIDs[0] {
		t.Fatalf("next task ContentIDs = %v, want only the second file", next.ContentIDs)
	}

	processOne(t, h)
	if sent := h.Outbound.Sent(); len(sent) != 2 {
		t.Fatalf("Sent() = %d documents, want 2", len(sent))
	}
	if h.Engine.IsActive(hash) {
		t.Error("torrent not released after the last file was delivered")
	}
}
