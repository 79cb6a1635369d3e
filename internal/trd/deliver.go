package trd

import (
	"context"
	"errors"
	"fmt"

	"torrentsready/internal/model"
)

// Outcome is the result of one delivery attempt. Parked work waits for the
// recipient's consent, Retry follows a transient failure and Abandoned
// work is never retried.
type Outcome int

const (
	Delivered Outcome = iota
	Parked
	Retry
	Abandoned
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Parked:
		return "parked"
	case Retry:
		return "retry"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// DeliveryRequest is a user's completed selection of one torrent.
type DeliveryRequest struct {
	UserID     int64
	TorrentID  int64
	ContentIDs []int64
}

type DispatcherConfig struct {
	ArchiveDir   string
	HostSavePath string
}

// Dispatcher packages a completed selection, sends it and releases the
// user's claim on the torrent.
type Dispatcher struct {
	database Database
	engine   Engine
	outbound Outbound
	notifier Notifier
	metrics  Metrics
	logger   Logger
	cfg      DispatcherConfig
}

func NewDispatcher(database Database, engine Engine, outbound Outbound, notifier Notifier, metrics Metrics, logger Logger, cfg DispatcherConfig) *Dispatcher {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Dispatcher{
		database: database,
		engine:   engine,
		outbound: outbound,
		notifier: notifier,
		metrics:  metrics,
		logger:   WithComponent(logger, "deliver"),
		cfg:      cfg,
	}
}

// Deliver performs one delivery attempt. The returned error explains any
// outcome other than Delivered; with Delivered it reports a failure of the
// cleanup that followed a successful send.
func (d *Dispatcher) Deliver(ctx context.Context, req DeliveryRequest) (outcome Outcome, err error) {
	defer func() { d.metrics.DeliveryFinished(outcome) }()

	user, err := d.database.FindUserByID(ctx, req.UserID)
	if err != nil {
		return Retry, fmt.Errorf("finding user: %w", err)
	}
	if user == nil {
		return Abandoned, fmt.Errorf("user %d: %w", req.UserID, ErrUserNotFound)
	}
	torrent, err := d.database.FindTorrentByID(ctx, req.TorrentID)
	if err != nil {
		return Retry, fmt.Errorf("finding torrent: %w", err)
	}
	if torrent == nil {
		return Abandoned, fmt.Errorf("torrent %d: %w", req.TorrentID, ErrTorrentNotFound)
	}
	logger := With(d.logger, "user_id", user.ID, "torrent_id", torrent.ID)

	known, err := d.outbound.IsKnownRecipient(ctx, user.MessengerID)
	if err != nil {
		return Retry, fmt.Errorf("checking recipient: %w", err)
	}
	if !known {
		logger.Info("recipient has not consented, parking delivery")
		return d.park(ctx, user)
	}

	contents, err := d.database.FindContentsByIDs(ctx, req.ContentIDs)
	if err != nil {
		return Retry, fmt.Errorf("loading contents: %w", err)
	}
	paths, err := savePaths(contents, req.ContentIDs)
	if err != nil {
		logger.Error("delivery abandoned", "error", err)
		return Abandoned, err
	}

	artifact := paths[0]
	if len(paths) > 1 {
		path, cleanup, err := buildArchive(d.cfg.ArchiveDir, torrent.Title, d.cfg.HostSavePath, paths)
		if errors.Is(err, ErrArtifactMissing) {
			logger.Error("delivery abandoned", "error", err)
			return Abandoned, err
		}
		if err != nil {
			return Retry, err
		}
		defer cleanup()
		artifact = path
	}

	ref, err := d.outbound.SendDocument(ctx, user.MessengerID, artifact)
	switch {
	case err == nil:
	case errors.Is(err, ErrRecipientUnreachable):
		logger.Info("recipient unreachable, parking delivery")
		if _, perr := d.park(ctx, user); perr != nil {
			return Parked, perr
		}
		return Parked, err
	case errors.Is(err, ErrArtifactMissing):
		logger.Error("delivery abandoned", "error", err)
		return Abandoned, err
	default:
		logger.Warn("sending failed", "error", err)
		return Retry, err
	}
	logger.Info("delivered", "artifact", artifact, "ref", ref)

	rel, err := d.database.ReleaseDelivered(ctx, user.ID, torrent.ID, req.ContentIDs)
	if err != nil {
		return Delivered, fmt.Errorf("releasing torrent after delivery: %w", err)
	}
	if rel.Released {
		if err := d.engine.RemoveTorrentAndData(ctx, torrent.Hash); err != nil {
			logger.Warn("removing torrent from engine failed", "hash", torrent.Hash, "error", err)
		} else {
			logger.Info("torrent released", "hash", torrent.Hash)
		}
	}
	if err := d.notifier.Delivered(ctx, user.MessengerID, torrent.Title, ref); err != nil {
		logger.Warn("sending delivery notice failed", "error", err)
	}
	return Delivered, nil
}

// park blocks the user and sends the consent prompt once per block episode.
func (d *Dispatcher) park(ctx context.Context, user *model.User) (Outcome, error) {
	if err := d.database.SetUserBlocked(ctx, user.ID); err != nil {
		return Parked, fmt.Errorf("blocking user: %w", err)
	}
	first, err := d.database.MarkUnblockingMessageSent(ctx, user.ID)
	if err != nil {
		return Parked, fmt.Errorf("recording consent prompt: %w", err)
	}
	if first {
		if err := d.notifier.ConsentRequired(ctx, user.MessengerID); err != nil {
			d.logger.Warn("sending consent prompt failed", "user_id", user.ID, "error", err)
		}
	}
	return Parked, nil
}

// savePaths returns the on-disk path of every requested content, in the
// requested order.
func savePaths(contents []*model.Content, ids []int64) ([]string, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty delivery: %w", ErrArtifactMissing)
	}
	byID := make(map[int64]*model.Content, len(contents))
	for _, c := range contents {
		byID[c.ID] = c
	}
	paths := make([]string, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("content %d: %w", id, ErrContentNotFound)
		}
		if !c.SavePath.Valid || c.SavePath.String == "" {
			return nil, fmt.Errorf("content %d has no save path: %w", id, ErrArtifactMissing)
		}
		paths = append(paths, c.SavePath.String)
	}
	return paths, nil
}
