package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"torrentsready/internal/api"
	"torrentsready/internal/config"
	"torrentsready/internal/database"
	"torrentsready/internal/encryption"
	"torrentsready/internal/engine"
	"torrentsready/internal/metrics"
	"torrentsready/internal/outbound"
	"torrentsready/internal/trd"
	"torrentsready/internal/watch"
)

// TRApp is the application layer between the CLI and trd.Service.
// It constructs all dependencies from config, exposes the long-running
// loops and one-shot operations, and releases resources on Close.
type TRApp struct {
	cfg        *config.Config
	db         trd.Database
	engine     trd.Engine
	outbound   trd.Outbound
	encryptor  trd.Encryptor
	metrics    *metrics.Prometheus
	hub        *api.Hub
	service    *trd.Service
	reconciler *trd.Reconciler
	worker     *trd.DeliveryWorker
	logger     trd.Logger
	clock      trd.Clock
	run        *Run
	logFile    *os.File
}

// NewTRApp creates a fully wired TRApp from the given config.
// command identifies the CLI command being run (e.g. "serve", "reconcile").
// The caller must call Close when done.
func NewTRApp(ctx context.Context, cfg *config.Config, command string, verbose bool) (*TRApp, error) {
	clock := trd.RealClock{}
	run := NewRun(command, trd.UUIDGenerator{}, clock)

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	sl, logFile, err := newLogger(cfg.LogDir, run.ID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := trd.Logger(&slogAdapter{l: sl})

	a := &TRApp{cfg: cfg, clock: clock, run: run, logFile: logFile, logger: logger}
	if err := a.wire(ctx); err != nil {
		a.closeResources()
		return nil, err
	}
	logger.Info("run started", "command", command, "instance_id", cfg.InstanceID)
	return a, nil
}

func (a *TRApp) wire(ctx context.Context) error {
	cfg := a.cfg

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.InstanceID)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db
	if err := db.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date: %w", err)
	}

	eng, err := engine.NewEngineFromConfig(cfg.Engine, a.logger)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	a.engine = eng

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc

	out, err := outbound.NewOutboundFromConfig(ctx, cfg.Outbound, enc, cfg.Delivery.ArchiveDir)
	if err != nil {
		return fmt.Errorf("creating outbound: %w", err)
	}
	a.outbound = out

	a.metrics = metrics.NewPrometheus()
	a.hub = api.NewHub(trd.LogNotifier{Logger: a.logger}, a.logger)

	maxSize := int64(cfg.Limits.MaxTorrentSize.Bytes())
	selection := trd.NewSelectionStore()
	admission := trd.NewAdmission(db, cfg.Limits.MaxActiveTorrents)
	ingestor := trd.NewIngestor(db, eng, a.clock, a.logger, trd.IngestorConfig{
		MaxFileSize:      maxSize,
		SavePath:         cfg.Engine.SavePath,
		MetadataAttempts: cfg.Engine.MetadataAttempts,
		MetadataDelay:    cfg.Engine.MetadataDelay.Duration,
	})
	finalizer := trd.NewFinalizer(db, eng, selection, a.clock, a.logger, trd.FinalizerConfig{
		MaxSelectionSize: maxSize,
		SavePath:         cfg.Engine.SavePath,
		PriorityAttempts: cfg.Engine.PriorityAttempts,
		RetryDelay:       cfg.Engine.MetadataDelay.Duration,
	})
	a.service = trd.NewService(db, eng, out, admission, ingestor, selection, finalizer,
		a.metrics, a.logger, a.clock, cfg.Selection.FilesPerPage)

	a.reconciler = trd.NewReconciler(db, eng, a.hub, a.metrics, a.clock, a.logger,
		cfg.Engine.HostSavePath, cfg.Reconcile.Interval.Duration)
	dispatcher := trd.NewDispatcher(db, eng, out, a.hub, a.metrics, a.logger, trd.DispatcherConfig{
		ArchiveDir:   cfg.Delivery.ArchiveDir,
		HostSavePath: cfg.Engine.HostSavePath,
	})
	a.worker = trd.NewDeliveryWorker(db, dispatcher, a.clock, a.logger, trd.WorkerConfig{
		Workers:       cfg.Delivery.Workers,
		MaxAttempts:   cfg.Delivery.MaxAttempts,
		RetryBackoff:  cfg.Delivery.RetryBackoff.Duration,
		PollInterval:  cfg.Delivery.PollInterval.Duration,
		RatePerMinute: cfg.Delivery.RatePerMinute,
	})
	return nil
}

// Service returns the core service for one-shot CLI operations.
func (a *TRApp) Service() *trd.Service {
	return a.service
}

// Serve runs the API, the reconciler, the delivery workers and, when
// configured, the drop folder watcher until ctx is done or one of them fails.
func (a *TRApp) Serve(ctx context.Context) error {
	server := api.NewServer(a.cfg.API, a.service, a.hub, a.metrics.Handler(), a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return a.reconciler.Run(ctx) })
	g.Go(func() error { return a.worker.Run(ctx) })
	if a.cfg.Watch.Dir != "" {
		w := watch.New(a.cfg.Watch.Dir, a.service, a.logger, 0)
		g.Go(func() error { return w.Run(ctx) })
	}

	if err := g.Wait(); err != nil {
		a.run.Fail()
		return err
	}
	return nil
}

// ReconcileOnce runs a single reconciliation pass.
func (a *TRApp) ReconcileOnce(ctx context.Context) (trd.CycleStats, error) {
	stats, err := a.reconciler.RunCycle(ctx)
	if err != nil {
		a.run.Fail()
	}
	return stats, err
}

// DeliverDue attempts every delivery that is currently due and returns how
// many were attempted.
func (a *TRApp) DeliverDue(ctx context.Context) (int, error) {
	n := 0
	for {
		worked, err := a.worker.ProcessOne(ctx)
		if err != nil {
			a.run.Fail()
			return n, err
		}
		if !worked {
			return n, nil
		}
		n++
	}
}

// Submit ingests a magnet link or a .torrent file path for the user and
// finalizes a selection of every file.
func (a *TRApp) Submit(ctx context.Context, messengerID int64, magnetOrPath string) (*trd.FinalizeResult, error) {
	payload := trd.Payload{Magnet: magnetOrPath}
	if !strings.HasPrefix(magnetOrPath, "magnet:") {
		data, err := os.ReadFile(magnetOrPath)
		if err != nil {
			a.run.Fail()
			return nil, fmt.Errorf("reading torrent file: %w", err)
		}
		payload = trd.Payload{TorrentFile: data}
	}

	res, err := a.submit(ctx, messengerID, payload)
	if err != nil {
		a.run.Fail()
	}
	return res, err
}

func (a *TRApp) submit(ctx context.Context, messengerID int64, payload trd.Payload) (*trd.FinalizeResult, error) {
	view, err := a.service.SubmitMagnetOrFile(ctx, messengerID, payload)
	if err != nil {
		return nil, err
	}
	if err := a.service.SelectAll(ctx, messengerID, view.Torrent.ID); err != nil {
		return nil, err
	}
	return a.service.FinalizeSelection(ctx, messengerID, view.Torrent.ID)
}

// Close records the end of the run and closes all resources.
func (a *TRApp) Close() error {
	a.logger.Info("run finished", "command", a.run.Command, "status", a.run.Status,
		"elapsed", a.run.Elapsed(a.clock))
	return a.closeResources()
}

func (a *TRApp) closeResources() error {
	var firstErr error
	if c, ok := a.engine.(io.Closer); ok {
		if err := c.Close(); err != nil {
			firstErr = fmt.Errorf("closing engine: %w", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// InitKeys generates the key pair used to seal deliveries.
func InitKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc.IsConfigured() && cfg.Encryption.Type != "test" {
		return fmt.Errorf("key pair already exists at %s", cfg.Encryption.PrivateKeyPath)
	}
	return enc.Setup(passphrase)
}

// OpenArtifact decrypts a sealed delivery from src into dst.
func OpenArtifact(cfg *config.Config, passphrase, src, dst string) (retErr error) {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	dc, err := enc.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking key: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening sealed file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer func() {
		if err := out.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("closing output file: %w", err)
		}
		if retErr != nil {
			os.Remove(dst)
		}
	}()

	if err := dc.Decrypt(in, out); err != nil {
		return fmt.Errorf("decrypting %s: %w", src, err)
	}
	return nil
}
