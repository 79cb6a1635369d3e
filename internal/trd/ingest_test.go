package trd_test

import (
	"context"
	"errors"
	"testing"

	"torrentsready/internal/testutil"
	"torrentsready/internal/trd"
)

func TestIngestor_TooLargeIsRemembered(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessConfig{MaxFileSize: 150})
	ctx := context.Background()
	hash := testutil.Hash(1)
	h.SeedTorrent(hash, "Huge", 200, 300)
	mid := h.StartUser(t, 1)

	_, _, err := h.Ingestor.Ingest(ctx, mid, trd.Payload{Magnet: testutil.Magnet(hash)})
	if pe, ok := trd.AsPolicyError(err); !ok || pe.Kind != trd.TooLarge || pe.Limit != 150 {
		t.Fatalf("Ingest() error = %v, want TooLarge", err)
	}
	if h.Engine.IsActive(hash) {
		t.Error("oversized torrent left in the engine")
	}

	stored, err := h.DB.FindTorrentByHash(ctx, hash)
	if err != nil {
		t.Fatalf("FindTorrentByHash() error = %v", err)
	}
	if stored == nil || !stored.IsBad {
		t.Fatalf("FindTorrentByHash() = %+v, want a torrent marked bad", stored)
	}

	// A second submission is refused without asking the engine.
	h.Engine.FailNext("AddTorrent", errors.New("engine must not be called"))
	_, _, err = h.Ingestor.Ingest(ctx, mid, trd.Payload{Magnet: testutil.Magnet(hash)})
	if pe, ok := trd.AsPolicyError(err); !ok || pe.Kind != trd.TooLarge {
		t.Fatalf("second Ingest() error = %v, want TooLarge", err)
	}

	n, err := h.DB.CountUserTorrents(ctx, mustUserID(t, h, mid))
	if err != nil {
		t.Fatalf("CountUserTorrents() error = %v", err)
	}
	if n != 0 {
		t.Errorf("CountUserTorrents() = %d, want bad torrents not to count", n)
	}
}

func TestIngestor_SomeFilesSmallEnough(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessConfig{MaxFileSize: 150})
	hash := testutil.Hash(2)
	h.SeedTorrent(hash, "Mixed", 100, 300)
	mid := h.StartUser(t, 1)

	_, contents, err := h.Ingestor.Ingest(context.Background(), mid, trd.Payload{Magnet: testutil.Magnet(hash)})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(contents) != 2 {
		t.Errorf("Ingest() returned %d contents, want every file listed", len(contents))
	}
}

func TestIngestor_MetadataUnavailable(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessConfig{})
	hash := testutil.Hash(3)
	mid := h.StartUser(t, 1)

	_, _, err := h.Ingestor.Ingest(context.Background(), mid, trd.Payload{Magnet: testutil.Magnet(hash)})
	if !errors.Is(err, trd.ErrMetadataUnavailable) {
		t.Fatalf("Ingest() error = %v, want ErrMetadataUnavailable", err)
	}
	if h.Engine.IsActive(hash) {
		t.Error("engine task kept after metadata timeout")
	}
	if got, _ := h.DB.FindTorrentByHash(context.Background(), hash); got != nil {
		t.Errorf("FindTorrentByHash() = %+v, want nothing recorded", got)
	}
}

func TestIngestor_EngineErrors(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessConfig{})
	hash := testutil.Hash(4)
	h.SeedTorrent(hash, "Flaky", 10)
	mid := h.StartUser(t, 1)

	boom := errors.New("engine down")
	h.Engine.FailNext("AddTorrent", boom)
	if _, _, err := h.Ingestor.Ingest(context.Background(), mid, trd.Payload{Magnet: testutil.Magnet(hash)}); !errors.Is(err, boom) {
		t.Errorf("Ingest() error = %v, want engine error", err)
	}

	// A transient GetFiles failure is retried within the attempt budget.
	h.Engine.FailNext("GetFiles", boom)
	if _, _, err := h.Ingestor.Ingest(context.Background(), mid, trd.Payload{Magnet: testutil.Magnet(hash)}); err != nil {
		t.Errorf("Ingest() after one GetFiles failure error = %v", err)
	}
}

func TestIngestor_InvalidPayload(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessConfig{})
	mid := h.StartUser(t, 1)

	_, _, err := h.Ingestor.Ingest(context.Background(), mid, trd.Payload{Magnet: "hello"})
	var he *trd.HashExtractionError
	if !errors.As(err, &he) {
		t.Errorf("Ingest() error = %v, want *HashExtractionError", err)
	}
}

func TestIngestor_KnownTorrentIsReused(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessConfig{})
	ctx := context.Background()
	hash := testutil.Hash(5)
	h.SeedTorrent(hash, "Reused", 10, 20)
	a, b := h.StartUser(t, 1), h.StartUser(t, 2)

	first, firstContents, err := h.Ingestor.Ingest(ctx, a, trd.Payload{Magnet: testutil.Magnet(hash)})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	h.Engine.FailNext("AddTorrent", errors.New("engine must not be called"))
	second, secondContents, err := h.Ingestor.Ingest(ctx, b, trd.Payload{Magnet: testutil.Magnet(hash)})
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	if first.ID != second.ID || len(firstContents) != len(secondContents) {
		t.Errorf("second Ingest() = torrent %d with %d contents, want torrent %d with %d",
			second.ID, len(secondContents), first.ID, len(firstContents))
	}

	users, err := h.DB.ListTorrentUserIDs(ctx, first.ID)
	if err != nil {
		t.Fatalf("ListTorrentUserIDs() error = %v", err)
	}
	if len(users) != 2 {
		t.Errorf("ListTorrentUserIDs() = %v, want both users linked", users)
	}
}

func mustUserID(t *testing.T, h *testutil.Harness, mid int64) int64 {
	t.Helper()
	u, err := h.DB.FindUserByMessengerID(context.Background(), mid)
	if err != nil || u == nil {
		t.Fatalf("FindUserByMessengerID(%d) = %v, %v", mid, u, err)
	}
	return u.ID
}
