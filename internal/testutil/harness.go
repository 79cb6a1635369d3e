package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"torrentsready/internal/database"
	"torrentsready/internal/engine"
	"torrentsready/internal/outbound"
	"torrentsready/internal/trd"
)

// HarnessConfig tunes the limits of a Harness. Zero values get defaults.
type HarnessConfig struct {
	MaxActiveTorrents int
	MaxFileSize       int64
	FilesPerPage      int
	MaxAttempts       int
}

// Harness wires every core component against in-memory collaborators.
type Harness struct {
	DB       *database.SQLDatabase
	Engine   *engine.MemoryEngine
	Outbound *outbound.MemoryOutbound
	Notifier *RecordingNotifier
	Metrics  *RecordingMetrics
	Clock    *StubClock

	Selection  *trd.SelectionStore
	Admission  *trd.Admission
	Ingestor   *trd.Ingestor
	Finalizer  *trd.Finalizer
	Service    *trd.Service
	Reconciler *trd.Reconciler
	Dispatcher *trd.Dispatcher
	Worker     *trd.DeliveryWorker

	// SavePath is where "downloaded" files live.
	SavePath string
}

func NewHarness(t *testing.T, cfg HarnessConfig) *Harness {
	t.Helper()
	if cfg.MaxActiveTorrents <= 0 {
		cfg.MaxActiveTorrents = 3
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 1 << 30
	}
	if cfg.FilesPerPage <= 0 {
		cfg.FilesPerPage = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	h := &Harness{
		DB:        NewTestDatabase(t),
		Engine:    engine.NewMemoryEngine(),
		Outbound:  outbound.NewMemoryOutbound(),
		Notifier:  NewRecordingNotifier(),
		Metrics:   NewRecordingMetrics(),
		Clock:     FixedClock(),
		Selection: trd.NewSelectionStore(),
		SavePath:  t.TempDir(),
	}
	logger := trd.NewNopLogger()

	h.Admission = trd.NewAdmission(h.DB, cfg.MaxActiveTorrents)
	h.Ingestor = trd.NewIngestor(h.DB, h.Engine, h.Clock, logger, trd.IngestorConfig{
		MaxFileSize:      cfg.MaxFileSize,
		SavePath:         "/downloads",
		MetadataAttempts: 2,
	})
	h.Finalizer = trd.NewFinalizer(h.DB, h.Engine, h.Selection, h.Clock, logger, trd.FinalizerConfig{
		MaxSelectionSize: cfg.MaxFileSize,
		SavePath:         "/downloads",
		PriorityAttempts: 2,
	})
	h.Service = trd.NewService(h.DB, h.Engine, h.Outbound, h.Admission, h.Ingestor, h.Selection,
		h.Finalizer, h.Metrics, logger, h.Clock, cfg.FilesPerPage)
	h.Reconciler = trd.NewReconciler(h.DB, h.Engine, h.Notifier, h.Metrics, h.Clock, logger, h.SavePath, time.Minute)
	h.Dispatcher = trd.NewDispatcher(h.DB, h.Engine, h.Outbound, h.Notifier, h.Metrics, logger, trd.DispatcherConfig{
		ArchiveDir:   t.TempDir(),
		HostSavePath: h.SavePath,
	})
	h.Worker = trd.NewDeliveryWorker(h.DB, h.Dispatcher, h.Clock, logger, trd.WorkerConfig{
		Workers:      1,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: time.Minute,
		PollInterval: 10 * time.Millisecond,
	})
	return h
}

// Hash returns a deterministic 40-character info-hash for n.
func Hash(n int) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 40)
	for i := range b {
		b[i] = hex[(n+i)%16]
	}
	return string(b)
}

// Magnet returns a magnet link for hash.
func Magnet(hash string) string {
	return "magnet:?xt=urn:btih:" + hash
}

// SeedTorrent registers a torrent named name whose files have the given
// sizes. Files are named <name>/<n>.bin.
func (h *Harness) SeedTorrent(hash, name string, sizes ...int64) {
	files := make([]trd.EngineFile, len(sizes))
	for i, size := range sizes {
		files[i] = trd.EngineFile{Index: i, Name: filepath.Join(name, string(rune('a'+i))+".bin"), Size: size}
	}
	h.Engine.Seed(hash, name, files)
}

// StartUser registers messengerID and returns it.
func (h *Harness) StartUser(t *testing.T, messengerID int64) int64 {
	t.Helper()
	if _, err := h.Service.StartInteraction(context.Background(), trd.Profile{MessengerID: messengerID}); err != nil {
		t.Fatalf("StartInteraction() error = %v", err)
	}
	return messengerID
}

// Complete marks every file of hash downloaded and writes it under SavePath.
func (h *Harness) Complete(t *testing.T, hash string) {
	t.Helper()
	files, err := h.Engine.GetFiles(context.Background(), hash)
	if err != nil {
		t.Fatalf("GetFiles() error = %v", err)
	}
	for _, f := range files {
		h.Engine.SetProgress(hash, f.Index, 1)
		p := filepath.Join(h.SavePath, f.Name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("creating download dir: %v", err)
		}
		if err := os.WriteFile(p, []byte("data of "+f.Name), 0o644); err != nil {
			t.Fatalf("writing downloaded file: %v", err)
		}
	}
}
