package trd

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"torrentsready/internal/model"
)

type WorkerConfig struct {
	Workers       int
	MaxAttempts   int
	RetryBackoff  time.Duration
	PollInterval  time.Duration
	RatePerMinute int // Zero or negative means unlimited
}

// DeliveryWorker drains the delivery queue through a Dispatcher.
type DeliveryWorker struct {
	database   Database
	dispatcher *Dispatcher
	clock      Clock
	logger     Logger
	limiter    *rate.Limiter
	cfg        WorkerConfig
}

func NewDeliveryWorker(database Database, dispatcher *Dispatcher, clock Clock, logger Logger, cfg WorkerConfig) *DeliveryWorker {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMinute))
	}
	return &DeliveryWorker{
		database:   database,
		dispatcher: dispatcher,
		clock:      clock,
		logger:     WithComponent(logger, "worker"),
		limiter:    rate.NewLimiter(limit, 1),
		cfg:        cfg,
	}
}

// Run resets tasks a previous process left in flight, then processes the
// queue with cfg.Workers goroutines until ctx is done.
func (w *DeliveryWorker) Run(ctx context.Context) error {
	n, err := w.database.ResetStaleDeliveries(ctx, w.clock.Now())
	if err != nil {
		return fmt.Errorf("resetting stale deliveries: %w", err)
	}
	if n > 0 {
		w.logger.Info("reset stale deliveries", "count", n)
	}

	w.logger.Info("delivery workers started", "workers", w.cfg.Workers)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	err = g.Wait()
	w.logger.Info("delivery workers stopped")
	return err
}

func (w *DeliveryWorker) loop(ctx context.Context) {
	for ctx.Err() == nil {
		worked, err := w.ProcessOne(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("processing delivery failed", "error", err)
		}
		if worked {
			continue
		}
		if sleep(ctx, w.cfg.PollInterval) != nil {
			return
		}
	}
}

// ProcessOne claims one due task and runs it. It reports false when the
// queue had nothing due.
func (w *DeliveryWorker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.database.ClaimDelivery(ctx, w.clock.Now())
	if err != nil {
		return false, fmt.Errorf("claiming delivery: %w", err)
	}
	if task == nil {
		return false, nil
	}

	if err := w.limiter.Wait(ctx); err != nil {
		w.release(task, err)
		return true, err
	}

	outcome, derr := w.dispatcher.Deliver(ctx, DeliveryRequest{
		UserID:     task.UserID,
		TorrentID:  task.TorrentID,
		ContentIDs: task.ContentIDs,
	})
	return true, w.record(ctx, task, outcome, derr)
}

// record stores the outcome of an attempt on the task. A successful
// delivery has already deleted it.
func (w *DeliveryWorker) record(ctx context.Context, task *model.DeliveryTask, outcome Outcome, derr error) error {
	now := w.clock.Now()
	task.Attempts++
	task.UpdatedAt = now
	task.LastError = ""
	if derr != nil {
		task.LastError = derr.Error()
	}
	logger := With(w.logger, "task_id", task.ID, "user_id", task.UserID, "torrent_id", task.TorrentID)

	switch outcome {
	case Delivered:
		if derr == nil {
			return nil
		}
		// Sent, but the registry could not be updated; keep it for an operator.
		task.Status = model.DeliveryFailed
	case Parked:
		task.Status = model.DeliveryParked
	case Retry:
		if task.Attempts >= w.cfg.MaxAttempts {
			task.Status = model.DeliveryFailed
			logger.Error("delivery failed permanently", "attempts", task.Attempts, "error", derr)
			break
		}
		task.Status = model.DeliveryPending
		task.NextAttemptAt = now.Add(time.Duration(task.Attempts) * w.cfg.RetryBackoff)
		logger.Warn("delivery will be retried", "attempts", task.Attempts, "next_attempt_at", task.NextAttemptAt)
	case Abandoned:
		task.Status = model.DeliveryAbandoned
	}

	if err := w.database.UpdateDelivery(ctx, task); err != nil {
		return fmt.Errorf("updating delivery %d: %w", task.ID, err)
	}
	return nil
}

// release returns a claimed task to the queue untouched, e.g. on shutdown.
func (w *DeliveryWorker) release(task *model.DeliveryTask, cause error) {
	task.Status = model.DeliveryPending
	task.UpdatedAt = w.clock.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.database.UpdateDelivery(ctx, task); err != nil {
		w.logger.Warn("returning delivery to queue failed", "task_id", task.ID, "cause", cause, "error", err)
	}
}
