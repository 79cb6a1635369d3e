package trd

import (
	"context"
	"fmt"
	"time"

	"torrentsready/internal/model"
)

// FinalizeResult describes a persisted selection.
type FinalizeResult struct {
	Torrent    *model.Torrent
	ContentIDs []int64
	TotalSize  int64
}

// FinalizerConfig holds the limits and engine settings Finalizer needs.
type FinalizerConfig struct {
	MaxSelectionSize int64
	SavePath         string
	PriorityAttempts int
	RetryDelay       time.Duration
}

// Finalizer turns an in-progress selection into durable associations and
// starts the download of the chosen files.
type Finalizer struct {
	database  Database
	engine    Engine
	selection *SelectionStore
	clock     Clock
	logger    Logger
	cfg       FinalizerConfig
}

func NewFinalizer(database Database, engine Engine, selection *SelectionStore, clock Clock, logger Logger, cfg FinalizerConfig) *Finalizer {
	if cfg.PriorityAttempts <= 0 {
		cfg.PriorityAttempts = 1
	}
	return &Finalizer{
		database:  database,
		engine:    engine,
		selection: selection,
		clock:     clock,
		logger:    WithComponent(logger, "finalize"),
		cfg:       cfg,
	}
}

// Finalize persists the user's selection for the torrent. An empty or
// oversized selection is refused with a *PolicyError and nothing is written;
// the selection stays open so the user can adjust it. Finalizing again
// recomputes the same associations.
func (f *Finalizer) Finalize(ctx context.Context, torrentID, userID int64) (*FinalizeResult, error) {
	selected, _, err := f.selection.Split(torrentID, userID)
	if err != nil {
		return nil, err
	}

	var total int64
	ids := make([]int64, 0, len(selected))
	chosen := make(map[int64]bool, len(selected))
	for _, c := range selected {
		total += c.Size
		ids = append(ids, c.ID)
		chosen[c.ID] = true
	}
	if total == 0 {
		return nil, &PolicyError{Kind: NothingSelected}
	}
	if f.cfg.MaxSelectionSize > 0 && total > f.cfg.MaxSelectionSize {
		return nil, &PolicyError{Kind: SelectionTooLarge, Limit: f.cfg.MaxSelectionSize, Got: total}
	}

	torrent, err := f.database.FindTorrentByID(ctx, torrentID)
	if err != nil {
		return nil, fmt.Errorf("finding torrent: %w", err)
	}
	if torrent == nil {
		return nil, fmt.Errorf("torrent %d: %w", torrentID, ErrTorrentNotFound)
	}

	if err := f.engine.AddTorrent(ctx, torrent.MagnetLink, f.cfg.SavePath); err != nil {
		return nil, fmt.Errorf("adding torrent to engine: %w", err)
	}

	wanted, err := f.wantedByOthers(ctx, torrentID, userID)
	if err != nil {
		return nil, err
	}
	contents, err := f.database.ListContents(ctx, torrentID)
	if err != nil {
		return nil, fmt.Errorf("listing contents: %w", err)
	}
	for _, c := range contents {
		priority := PriorityNone
		if chosen[c.ID] || wanted[c.ID] {
			priority = PriorityNormal
		}
		f.setPriority(ctx, torrent.Hash, c.Index, priority)
	}

	if err := f.database.SaveSelection(ctx, userID, torrentID, ids, f.clock.Now()); err != nil {
		return nil, fmt.Errorf("saving selection: %w", err)
	}
	f.selection.Discard(torrentID, userID)

	f.logger.Info("selection finalized", "torrent_id", torrentID, "user_id", userID,
		"contents", len(ids), "size", total)
	return &FinalizeResult{Torrent: torrent, ContentIDs: ids, TotalSize: total}, nil
}

// wantedByOthers returns the contents of the torrent other users selected.
// Their files must keep downloading whatever this user chose.
func (f *Finalizer) wantedByOthers(ctx context.Context, torrentID, userID int64) (map[int64]bool, error) {
	userIDs, err := f.database.ListTorrentUserIDs(ctx, torrentID)
	if err != nil {
		return nil, fmt.Errorf("listing torrent users: %w", err)
	}
	wanted := make(map[int64]bool)
	for _, uid := range userIDs {
		if uid == userID {
			continue
		}
		ids, err := f.database.ListUserContentIDs(ctx, uid, torrentID)
		if err != nil {
			return nil, fmt.Errorf("listing selection of user %d: %w", uid, err)
		}
		for _, id := range ids {
			wanted[id] = true
		}
	}
	return wanted, nil
}

// setPriority retries a bounded number of times; the engine refuses
// priorities until it has the torrent's metadata. Exhaustion is logged and
// the download proceeds with the engine's default for that file.
func (f *Finalizer) setPriority(ctx context.Context, hash string, index, priority int) {
	var err error
	for attempt := 1; attempt <= f.cfg.PriorityAttempts; attempt++ {
		if err = f.engine.SetFilePriority(ctx, hash, index, priority); err == nil {
			return
		}
		if attempt < f.cfg.PriorityAttempts {
			if serr := sleep(ctx, f.cfg.RetryDelay); serr != nil {
				err = serr
				break
			}
		}
	}
	f.logger.Error("setting file priority failed", "hash", hash, "index", index,
		"priority", priority, "attempts", f.cfg.PriorityAttempts, "error", err)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
