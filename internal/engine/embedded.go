package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"

	"torrentsready/internal/config"
	"torrentsready/internal/trd"
)

var errNoMetadata = errors.New("torrent metadata not yet available")

// EmbeddedEngine downloads in-process with anacrolix/torrent. Files are
// not fetched until given a priority, so probing a torrent for its file
// list transfers metadata only.
type EmbeddedEngine struct {
	client  *torrent.Client
	dataDir string
	logger  trd.Logger
}

var _ trd.Engine = (*EmbeddedEngine)(nil)

// NewEmbeddedEngine starts a client that downloads into cfg.HostSavePath,
// the directory the reconciler resolves ready files against.
func NewEmbeddedEngine(cfg config.EngineConfig, logger trd.Logger) (*EmbeddedEngine, error) {
	return newEmbeddedEngine(cfg, torrent.NewDefaultClientConfig(), logger)
}

func newEmbeddedEngine(cfg config.EngineConfig, tc *torrent.ClientConfig, logger trd.Logger) (*EmbeddedEngine, error) {
	if cfg.HostSavePath == "" {
		return nil, fmt.Errorf("host_save_path required for embedded engine")
	}
	if err := os.MkdirAll(cfg.HostSavePath, 0o750); err != nil {
		return nil, fmt.Errorf("creating host_save_path: %w", err)
	}

	tc.DataDir = cfg.HostSavePath
	tc.Seed = false
	client, err := torrent.NewClient(tc)
	if err != nil {
		return nil, fmt.Errorf("starting torrent client: %w", err)
	}
	return &EmbeddedEngine{
		client:  client,
		dataDir: cfg.HostSavePath,
		logger:  trd.WithComponent(logger, "embedded"),
	}, nil
}

// Authenticate is a no-op; the client runs in-process.
func (e *EmbeddedEngine) Authenticate(context.Context) error { return nil }

// AddTorrent adds the magnet. The client writes every torrent under
// host_save_path, so savePath is ignored.
func (e *EmbeddedEngine) AddTorrent(_ context.Context, magnet, _ string) error {
	if _, err := e.client.AddMagnet(magnet); err != nil {
		return fmt.Errorf("adding magnet: %w", err)
	}
	return nil
}

func (e *EmbeddedEngine) lookup(hash string) (*torrent.Torrent, error) {
	var ih metainfo.Hash
	if err := ih.FromHexString(hash); err != nil {
		return nil, fmt.Errorf("parsing info-hash %q: %w", hash, err)
	}
	t, ok := e.client.Torrent(ih)
	if !ok {
		return nil, nil
	}
	return t, nil
}

func (e *EmbeddedEngine) GetFiles(_ context.Context, hash string) ([]trd.EngineFile, error) {
	t, err := e.lookup(hash)
	if err != nil || t == nil || t.Info() == nil {
		return nil, err
	}
	files := t.Files()
	out := make([]trd.EngineFile, len(files))
	for i, f := range files {
		progress := 1.0
		if f.Length() > 0 {
			progress = float64(f.BytesCompleted()) / float64(f.Length())
		}
		out[i] = trd.EngineFile{Index: i, Name: f.Path(), Size: f.Length(), Progress: progress}
	}
	return out, nil
}

func (e *EmbeddedEngine) GetTorrentMeta(_ context.Context, hash string) (*trd.TorrentMeta, error) {
	t, err := e.lookup(hash)
	if err != nil || t == nil || t.Info() == nil {
		return nil, err
	}
	return &trd.TorrentMeta{Name: t.Name(), TotalSize: t.Length()}, nil
}

func (e *EmbeddedEngine) SetFilePriority(_ context.Context, hash string, index, priority int) error {
	t, err := e.lookup(hash)
	if err != nil {
		return err
	}
	if t == nil || t.Info() == nil {
		return errNoMetadata
	}
	files := t.Files()
	if index < 0 || index >= len(files) {
		return fmt.Errorf("file index %d out of range", index)
	}
	prio := torrent.PiecePriorityNormal
	if priority == trd.PriorityNone {
		prio = torrent.PiecePriorityNone
	}
	files[index].SetPriority(prio)
	return nil
}

func (e *EmbeddedEngine) RemoveTorrentAndData(_ context.Context, hash string) error {
	t, err := e.lookup(hash)
	if err != nil || t == nil {
		return err
	}
	var name string
	if t.Info() != nil {
		name = t.Name()
	}
	t.Drop()
	if name == "" {
		return nil
	}
	if err := os.RemoveAll(filepath.Join(e.dataDir, name)); err != nil {
		return fmt.Errorf("removing torrent data: %w", err)
	}
	e.logger.Debug("torrent dropped with data", "hash", hash, "name", name)
	return nil
}

// Close shuts the client down.
func (e *EmbeddedEngine) Close() error {
	errs := e.client.Close()
	return errors.Join(errs...)
}
