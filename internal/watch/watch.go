// Package watch ingests .torrent files dropped into per-user folders.
//
// A file written to <dir>/<messengerID>/name.torrent is submitted for that
// user with every file selected. Processed files are renamed with a .done
// suffix; rejected ones get .failed and a .failed.txt holding the reason.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"torrentsready/internal/trd"
)

const (
	torrentExt   = ".torrent"
	doneSuffix   = ".done"
	failedSuffix = ".failed"
)

// Submitter is the part of trd.Service a drop folder drives.
type Submitter interface {
	SubmitMagnetOrFile(ctx context.Context, messengerID int64, payload trd.Payload) (*trd.SelectionView, error)
	SelectAll(ctx context.Context, messengerID, torrentID int64) error
	FinalizeSelection(ctx context.Context, messengerID, torrentID int64) (*trd.FinalizeResult, error)
}

var _ Submitter = (*trd.Service)(nil)

// Watcher watches a drop folder.
type Watcher struct {
	dir       string
	submitter Submitter
	logger    trd.Logger
	settle    time.Duration

	mu      sync.Mutex
	pending map[string]time.Time
}

// New returns a Watcher for dir. Files are processed once no write has
// been seen for settle.
func New(dir string, submitter Submitter, logger trd.Logger, settle time.Duration) *Watcher {
	if settle <= 0 {
		settle = time.Second
	}
	return &Watcher{
		dir:       dir,
		submitter: submitter,
		logger:    trd.WithComponent(logger, "watch"),
		settle:    settle,
		pending:   make(map[string]time.Time),
	}
}

// Run watches until ctx is done. Files already present are processed first.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating watch dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("reading watch dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addUserDir(fsw, filepath.Join(w.dir, e.Name()))
		}
	}
	w.logger.Info("watching drop folder", "dir", w.dir)

	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("drop folder watcher stopped")
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		case <-ticker.C:
			for _, path := range w.due() {
				w.ProcessFile(ctx, path)
			}
		}
	}
}

func (w *Watcher) handle(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if filepath.Dir(ev.Name) == filepath.Clean(w.dir) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			w.addUserDir(fsw, ev.Name)
		}
		return
	}
	if isTorrent(ev.Name) {
		w.touch(ev.Name)
	}
}

// addUserDir watches a per-user folder and queues the files it holds.
func (w *Watcher) addUserDir(fsw *fsnotify.Watcher, dir string) {
	if _, err := messengerID(filepath.Join(dir, "x"+torrentExt)); err != nil {
		w.logger.Debug("ignoring folder", "dir", dir)
		return
	}
	if err := fsw.Add(dir); err != nil {
		w.logger.Warn("watching user folder failed", "dir", dir, "error", err)
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Warn("reading user folder failed", "dir", dir, "error", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() && isTorrent(e.Name()) {
			w.touch(filepath.Join(dir, e.Name()))
		}
	}
}

func (w *Watcher) touch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = time.Now()
}

// due returns the pending files that have settled.
func (w *Watcher) due() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	now := time.Now()
	for path, seen := range w.pending {
		if now.Sub(seen) >= w.settle {
			out = append(out, path)
			delete(w.pending, path)
		}
	}
	return out
}

// ProcessFile submits one dropped file and marks it done or failed.
func (w *Watcher) ProcessFile(ctx context.Context, path string) error {
	logger := trd.With(w.logger, "file", path)
	err := w.submit(ctx, path)
	if err != nil {
		logger.Warn("dropped torrent rejected", "error", err)
		if rerr := os.Rename(path, path+failedSuffix); rerr != nil {
			logger.Error("marking file failed", "error", rerr)
		}
		reason := trd.UserMessage(err) + "\n" + err.Error() + "\n"
		if werr := os.WriteFile(path+failedSuffix+".txt", []byte(reason), 0o644); werr != nil {
			logger.Error("writing failure reason", "error", werr)
		}
		return err
	}
	if rerr := os.Rename(path, path+doneSuffix); rerr != nil {
		logger.Error("marking file done", "error", rerr)
	}
	return nil
}

func (w *Watcher) submit(ctx context.Context, path string) error {
	mid, err := messengerID(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading torrent file: %w", err)
	}
	view, err := w.submitter.SubmitMagnetOrFile(ctx, mid, trd.Payload{TorrentFile: data})
	if err != nil {
		return err
	}
	if err := w.submitter.SelectAll(ctx, mid, view.Torrent.ID); err != nil {
		return err
	}
	res, err := w.submitter.FinalizeSelection(ctx, mid, view.Torrent.ID)
	if err != nil {
		return err
	}
	w.logger.Info("dropped torrent queued", "messenger_id", mid, "torrent_id", res.Torrent.ID,
		"contents", len(res.ContentIDs))
	return nil
}

// messengerID reads the owner from the file's parent folder name.
func messengerID(path string) (int64, error) {
	name := filepath.Base(filepath.Dir(path))
	mid, err := strconv.ParseInt(name, 10, 64)
	if err != nil || mid <= 0 {
		return 0, fmt.Errorf("folder %q is not a messenger id", name)
	}
	return mid, nil
}

func isTorrent(name string) bool {
	return strings.EqualFold(filepath.Ext(name), torrentExt)
}
