package trd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"torrentsready/internal/model"
)

// CycleStats summarizes one reconciliation pass.
type CycleStats struct {
	Torrents      int // Processing torrents inspected
	Skipped       int // Torrents the engine had nothing for
	ContentsReady int // Contents newly marked ready
	Enqueued      int // Deliveries queued
	Prompts       int // Consent prompts sent
}

// Reconciler compares the engine's view of processing torrents with the
// registry, records finished files and queues deliveries for users whose
// whole selection is on disk.
type Reconciler struct {
	database     Database
	engine       Engine
	notifier     Notifier
	metrics      Metrics
	clock        Clock
	logger       Logger
	hostSavePath string
	interval     time.Duration
}

func NewReconciler(database Database, engine Engine, notifier Notifier, metrics Metrics, clock Clock, logger Logger, hostSavePath string, interval time.Duration) *Reconciler {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Reconciler{
		database:     database,
		engine:       engine,
		notifier:     notifier,
		metrics:      metrics,
		clock:        clock,
		logger:       WithComponent(logger, "reconcile"),
		hostSavePath: hostSavePath,
		interval:     interval,
	}
}

// Run executes a cycle every interval until ctx is done. A failed cycle is
// logged and the loop continues.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", "interval", r.interval)
	for {
		if _, err := r.RunCycle(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reconcile cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle performs one pass over every processing torrent. Errors for a
// single torrent are logged and do not abort the pass.
func (r *Reconciler) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	torrents, err := r.database.ListProcessingTorrents(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing processing torrents: %w", err)
	}
	r.metrics.SetActiveTorrents(len(torrents))

	for _, t := range torrents {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Torrents++
		if err := r.reconcileTorrent(ctx, t, &stats); err != nil {
			r.logger.Error("reconciling torrent failed", "torrent_id", t.ID, "hash", t.Hash, "error", err)
		}
	}

	r.metrics.ReconcileCycleFinished()
	r.logger.Debug("reconcile cycle finished", "torrents", stats.Torrents, "skipped", stats.Skipped,
		"ready", stats.ContentsReady, "enqueued", stats.Enqueued)
	return stats, nil
}

func (r *Reconciler) reconcileTorrent(ctx context.Context, t *model.Torrent, stats *CycleStats) error {
	files, err := r.engine.GetFiles(ctx, t.Hash)
	if err != nil {
		stats.Skipped++
		return fmt.Errorf("fetching engine files: %w", err)
	}
	if len(files) == 0 {
		stats.Skipped++
		r.logger.Debug("engine has no files for torrent", "torrent_id", t.ID, "hash", t.Hash)
		return nil
	}
	byIndex := make(map[int]EngineFile, len(files))
	for _, f := range files {
		byIndex[f.Index] = f
	}

	contents, err := r.database.ListContents(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("listing contents: %w", err)
	}
	contentByID := make(map[int64]*model.Content, len(contents))
	for _, c := range contents {
		contentByID[c.ID] = c
	}

	userIDs, err := r.database.ListTorrentUserIDs(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("listing torrent users: %w", err)
	}

	for _, uid := range userIDs {
		if err := r.reconcileUser(ctx, t, uid, byIndex, contentByID, stats); err != nil {
			r.logger.Error("reconciling user failed", "torrent_id", t.ID, "user_id", uid, "error", err)
		}
	}
	return nil
}

func (r *Reconciler) reconcileUser(ctx context.Context, t *model.Torrent, userID int64, files map[int]EngineFile, contents map[int64]*model.Content, stats *CycleStats) error {
	user, err := r.database.FindUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("finding user: %w", err)
	}
	if user == nil {
		return nil
	}
	if user.IsBlocked {
		return r.promptOnce(ctx, user, stats)
	}

	ids, err := r.database.ListUserContentIDs(ctx, userID, t.ID)
	if err != nil {
		return fmt.Errorf("listing selection: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	ready := 0
	for _, id := range ids {
		c, ok := contents[id]
		if !ok {
			continue
		}
		if c.Ready {
			ready++
			continue
		}
		f, ok := files[c.Index]
		if !ok || f.Progress < 1 {
			continue
		}
		savePath := filepath.Join(r.hostSavePath, f.Name)
		marked, err := r.database.MarkContentReady(ctx, c.ID, savePath)
		if err != nil {
			return fmt.Errorf("marking content %d ready: %w", c.ID, err)
		}
		c.Ready = true
		c.SavePath.String, c.SavePath.Valid = savePath, true
		ready++
		if marked {
			stats.ContentsReady++
			r.metrics.ContentReady()
			r.logger.Info("content ready", "torrent_id", t.ID, "content_id", c.ID, "path", savePath)
		}
	}
	if ready < len(ids) {
		return nil
	}

	created, err := r.database.EnqueueDelivery(ctx, userID, t.ID, ids, r.clock.Now())
	if err != nil {
		return fmt.Errorf("enqueueing delivery: %w", err)
	}
	if created {
		stats.Enqueued++
		r.logger.Info("delivery enqueued", "torrent_id", t.ID, "user_id", userID, "contents", len(ids))
	}
	return nil
}

// promptOnce sends the consent prompt the first time a blocked user is
// seen in the current block episode.
func (r *Reconciler) promptOnce(ctx context.Context, user *model.User, stats *CycleStats) error {
	first, err := r.database.MarkUnblockingMessageSent(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("recording consent prompt: %w", err)
	}
	if !first {
		return nil
	}
	stats.Prompts++
	if err := r.notifier.ConsentRequired(ctx, user.MessengerID); err != nil {
		return fmt.Errorf("sending consent prompt: %w", err)
	}
	return nil
}
