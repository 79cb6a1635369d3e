package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	qbt "github.com/autobrr/go-qbittorrent"

	"torrentsready/internal/config"
	"torrentsready/internal/trd"
)

// QBittorrentEngine drives a qBittorrent instance through its Web API.
type QBittorrentEngine struct {
	client *qbt.Client
	logger trd.Logger
}

var _ trd.Engine = (*QBittorrentEngine)(nil)

func NewQBittorrentEngine(cfg config.EngineConfig, logger trd.Logger) *QBittorrentEngine {
	client := qbt.NewClient(qbt.Config{
		Host:          cfg.Host,
		Username:      cfg.Username,
		Password:      cfg.Password,
		TLSSkipVerify: cfg.TLSSkipVerify,
		Timeout:       cfg.Timeout,
	})
	return &QBittorrentEngine{client: client, logger: trd.WithComponent(logger, "qbittorrent")}
}

func (e *QBittorrentEngine) Authenticate(ctx context.Context) error {
	if err := e.client.LoginCtx(ctx); err != nil {
		return fmt.Errorf("logging in to qbittorrent: %w", err)
	}
	return nil
}

func (e *QBittorrentEngine) AddTorrent(ctx context.Context, magnet, savePath string) error {
	opts := map[string]string{}
	if savePath != "" {
		opts["savepath"] = savePath
	}
	if err := e.client.AddTorrentFromUrlCtx(ctx, magnet, opts); err != nil {
		return classify("adding torrent", err)
	}
	return nil
}

func (e *QBittorrentEngine) GetFiles(ctx context.Context, hash string) ([]trd.EngineFile, error) {
	files, err := e.client.GetFilesInformationCtx(ctx, hash)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, classify("getting files", err)
	}
	if files == nil {
		return nil, nil
	}
	out := make([]trd.EngineFile, 0, len(*files))
	for _, f := range *files {
		out = append(out, trd.EngineFile{
			Index:    f.Index,
			Name:     f.Name,
			Size:     f.Size,
			Progress: float64(f.Progress),
		})
	}
	return out, nil
}

func (e *QBittorrentEngine) GetTorrentMeta(ctx context.Context, hash string) (*trd.TorrentMeta, error) {
	torrents, err := e.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{hash}})
	if err != nil {
		return nil, classify("getting torrent", err)
	}
	for _, t := range torrents {
		if strings.EqualFold(t.Hash, hash) {
			size := t.TotalSize
			if size == 0 {
				size = t.Size
			}
			return &trd.TorrentMeta{Name: t.Name, TotalSize: size}, nil
		}
	}
	return nil, nil
}

func (e *QBittorrentEngine) SetFilePriority(ctx context.Context, hash string, index, priority int) error {
	if err := e.client.SetFilePriorityCtx(ctx, hash, strconv.Itoa(index), priority); err != nil {
		return classify("setting file priority", err)
	}
	return nil
}

func (e *QBittorrentEngine) RemoveTorrentAndData(ctx context.Context, hash string) error {
	if err := e.client.DeleteTorrentsCtx(ctx, []string{hash}, true); err != nil {
		if isNotFound(err) {
			return nil
		}
		return classify("deleting torrent", err)
	}
	e.logger.Debug("torrent deleted with data", "hash", hash)
	return nil
}

// classify wraps err, marking session failures with trd.ErrAuthExpired.
func classify(op string, err error) error {
	if isAuthError(err) {
		return fmt.Errorf("%s: %w: %v", op, trd.ErrAuthExpired, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "403") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "unauthorized")
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "404") || strings.Contains(msg, "not found")
}
