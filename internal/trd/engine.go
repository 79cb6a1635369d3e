package trd

import (
	"context"
	"errors"
	"fmt"
)

// ErrAuthExpired is wrapped by Engine implementations when a call failed
// because the session is no longer valid.
var ErrAuthExpired = errors.New("engine session expired")

// File priorities understood by every engine.
const (
	PriorityNone   = 0
	PriorityNormal = 1
)

// EngineFile is one file as reported by the download engine. Index is the
// only stable key into the engine's file list.
type EngineFile struct {
	Index    int
	Name     string // Path relative to the engine's save path
	Size     int64
	Progress float64 // 0..1
}

// TorrentMeta is the engine's summary of a torrent.
type TorrentMeta struct {
	Name      string
	TotalSize int64
}

// Engine is the external download engine.
type Engine interface {
	Authenticate(ctx context.Context) error

	// AddTorrent asks the engine to fetch a torrent. Adding a known torrent is safe.
	AddTorrent(ctx context.Context, magnet, savePath string) error

	// GetFiles returns the torrent's files, or nil if the engine does not
	// know the torrent or has no metadata yet.
	GetFiles(ctx context.Context, hash string) ([]EngineFile, error)

	// GetTorrentMeta returns nil if the engine does not know the torrent.
	GetTorrentMeta(ctx context.Context, hash string) (*TorrentMeta, error)

	SetFilePriority(ctx context.Context, hash string, index, priority int) error

	// RemoveTorrentAndData deletes the task and its downloaded data.
	// Removing an unknown torrent is not an error.
	RemoveTorrentAndData(ctx context.Context, hash string) error
}

// ReauthEngine decorates an Engine so a call failing with ErrAuthExpired
// re-authenticates once and retries the same call once.
type ReauthEngine struct {
	inner  Engine
	logger Logger
}

var _ Engine = (*ReauthEngine)(nil)

func NewReauthEngine(inner Engine, logger Logger) *ReauthEngine {
	return &ReauthEngine{inner: inner, logger: WithComponent(logger, "engine")}
}

func (e *ReauthEngine) do(ctx context.Context, op string, call func() error) error {
	err := call()
	if err == nil || !errors.Is(err, ErrAuthExpired) {
		return err
	}

	e.logger.Info("engine session expired, re-authenticating", "op", op)
	if aerr := e.inner.Authenticate(ctx); aerr != nil {
		return fmt.Errorf("re-authenticating for %s: %w", op, aerr)
	}
	return call()
}

func (e *ReauthEngine) Authenticate(ctx context.Context) error {
	return e.inner.Authenticate(ctx)
}

func (e *ReauthEngine) AddTorrent(ctx context.Context, magnet, savePath string) error {
	return e.do(ctx, "AddTorrent", func() error {
		return e.inner.AddTorrent(ctx, magnet, savePath)
	})
}

func (e *ReauthEngine) GetFiles(ctx context.Context, hash string) ([]EngineFile, error) {
	var files []EngineFile
	err := e.do(ctx, "GetFiles", func() error {
		var err error
		files, err = e.inner.GetFiles(ctx, hash)
		return err
	})
	return files, err
}

func (e *ReauthEngine) GetTorrentMeta(ctx context.Context, hash string) (*TorrentMeta, error) {
	var meta *TorrentMeta
	err := e.do(ctx, "GetTorrentMeta", func() error {
		var err error
		meta, err = e.inner.GetTorrentMeta(ctx, hash)
		return err
	})
	return meta, err
}

func (e *ReauthEngine) SetFilePriority(ctx context.Context, hash string, index, priority int) error {
	return e.do(ctx, "SetFilePriority", func() error {
		return e.inner.SetFilePriority(ctx, hash, index, priority)
	})
}

func (e *ReauthEngine) RemoveTorrentAndData(ctx context.Context, hash string) error {
	return e.do(ctx, "RemoveTorrentAndData", func() error {
		return e.inner.RemoveTorrentAndData(ctx, hash)
	})
}
