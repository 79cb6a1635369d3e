package trd

import (
	"context"
	"fmt"
	"time"

	"torrentsready/internal/model"
)

// IngestorConfig holds the size policy and metadata polling bounds.
type IngestorConfig struct {
	MaxFileSize      int64
	SavePath         string
	MetadataAttempts int
	MetadataDelay    time.Duration
}

// Ingestor registers submitted torrents and their file lists. It only
// inspects metadata; data is downloaded after a selection is finalized.
type Ingestor struct {
	database Database
	engine   Engine
	clock    Clock
	logger   Logger
	cfg      IngestorConfig
}

func NewIngestor(database Database, engine Engine, clock Clock, logger Logger, cfg IngestorConfig) *Ingestor {
	if cfg.MetadataAttempts <= 0 {
		cfg.MetadataAttempts = 1
	}
	return &Ingestor{
		database: database,
		engine:   engine,
		clock:    clock,
		logger:   WithComponent(logger, "ingest"),
		cfg:      cfg,
	}
}

// Ingest registers the payload's torrent for the user and returns it with
// its contents. Submitting a known torrent returns the existing records.
func (i *Ingestor) Ingest(ctx context.Context, messengerID int64, payload Payload) (*model.Torrent, []*model.Content, error) {
	user, err := i.database.FindUserByMessengerID(ctx, messengerID)
	if err != nil {
		return nil, nil, fmt.Errorf("finding user: %w", err)
	}
	if user == nil {
		return nil, nil, fmt.Errorf("messenger id %d: %w", messengerID, ErrUserNotFound)
	}

	hash, magnet, err := payload.Resolve()
	if err != nil {
		return nil, nil, err
	}

	existing, err := i.database.FindTorrentByHash(ctx, hash)
	if err != nil {
		return nil, nil, fmt.Errorf("finding torrent: %w", err)
	}
	if existing != nil && existing.IsBad {
		return nil, nil, &PolicyError{Kind: TooLarge, Limit: i.cfg.MaxFileSize}
	}
	if existing != nil {
		contents, err := i.database.ListContents(ctx, existing.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("listing contents: %w", err)
		}
		if len(contents) > 0 {
			if err := i.database.LinkUserTorrent(ctx, user.ID, existing.ID); err != nil {
				return nil, nil, fmt.Errorf("linking user to torrent: %w", err)
			}
			i.logger.Info("torrent already registered", "hash", hash, "user_id", user.ID)
			return existing, contents, nil
		}
	}

	files, err := i.fetchFiles(ctx, hash, magnet)
	if err != nil {
		return nil, nil, err
	}

	if i.allTooLarge(files) {
		i.purge(ctx, hash)
		if _, err := i.database.GetOrCreateTorrent(ctx, &model.Torrent{
			Hash:       hash,
			MagnetLink: magnet,
			Size:       sumSizes(files),
			IsBad:      true,
			CreatedAt:  i.clock.Now(),
		}); err != nil {
			i.logger.Warn("recording oversized torrent failed", "hash", hash, "error", err)
		}
		return nil, nil, &PolicyError{Kind: TooLarge, Limit: i.cfg.MaxFileSize}
	}

	title, size := i.describe(ctx, hash, files)
	torrent, err := i.database.GetOrCreateTorrent(ctx, &model.Torrent{
		Hash:       hash,
		Title:      title,
		Size:       size,
		MagnetLink: magnet,
		CreatedAt:  i.clock.Now(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("saving torrent: %w", err)
	}

	rows := make([]*model.Content, len(files))
	for n, f := range files {
		rows[n] = &model.Content{TorrentID: torrent.ID, Index: f.Index, Path: f.Name, Size: f.Size}
	}
	contents, err := i.database.CreateContents(ctx, torrent.ID, rows)
	if err != nil {
		return nil, nil, fmt.Errorf("saving contents: %w", err)
	}

	if err := i.database.LinkUserTorrent(ctx, user.ID, torrent.ID); err != nil {
		return nil, nil, fmt.Errorf("linking user to torrent: %w", err)
	}

	// Another user may have started the real download meanwhile.
	current, err := i.database.FindTorrentByID(ctx, torrent.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("reloading torrent: %w", err)
	}
	if current != nil && !current.IsProcessing {
		i.purge(ctx, hash)
	}

	i.logger.Info("torrent ingested", "hash", hash, "torrent_id", torrent.ID,
		"user_id", user.ID, "files", len(contents))
	return torrent, contents, nil
}

// fetchFiles adds the torrent to the engine and polls for its file list.
func (i *Ingestor) fetchFiles(ctx context.Context, hash, magnet string) ([]EngineFile, error) {
	if err := i.engine.AddTorrent(ctx, magnet, i.cfg.SavePath); err != nil {
		return nil, fmt.Errorf("adding torrent to engine: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= i.cfg.MetadataAttempts; attempt++ {
		files, err := i.engine.GetFiles(ctx, hash)
		if err == nil && len(files) > 0 {
			return files, nil
		}
		lastErr = err
		if attempt < i.cfg.MetadataAttempts {
			if err := sleep(ctx, i.cfg.MetadataDelay); err != nil {
				i.purge(context.WithoutCancel(ctx), hash)
				return nil, err
			}
		}
	}

	i.purge(ctx, hash)
	if lastErr != nil {
		i.logger.Error("fetching metadata failed", "hash", hash, "attempts", i.cfg.MetadataAttempts, "error", lastErr)
		return nil, fmt.Errorf("%w: %v", ErrMetadataUnavailable, lastErr)
	}
	i.logger.Warn("metadata not available", "hash", hash, "attempts", i.cfg.MetadataAttempts)
	return nil, ErrMetadataUnavailable
}

func (i *Ingestor) allTooLarge(files []EngineFile) bool {
	if i.cfg.MaxFileSize <= 0 {
		return false
	}
	for _, f := range files {
		if f.Size <= i.cfg.MaxFileSize {
			return false
		}
	}
	return true
}

// describe returns the torrent's title and total size, preferring the
// engine's summary over values derived from the file list.
func (i *Ingestor) describe(ctx context.Context, hash string, files []EngineFile) (string, int64) {
	title, size := files[0].Name, sumSizes(files)
	meta, err := i.engine.GetTorrentMeta(ctx, hash)
	if err != nil {
		i.logger.Warn("fetching torrent summary failed", "hash", hash, "error", err)
		return title, size
	}
	if meta != nil {
		if meta.Name != "" {
			title = meta.Name
		}
		if meta.TotalSize > 0 {
			size = meta.TotalSize
		}
	}
	return title, size
}

// purge removes the provisional engine task. Failures are logged only.
func (i *Ingestor) purge(ctx context.Context, hash string) {
	if err := i.engine.RemoveTorrentAndData(ctx, hash); err != nil {
		i.logger.Warn("removing provisional engine task failed", "hash", hash, "error", err)
	}
}

func sumSizes(files []EngineFile) int64 {
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total
}
