package outbound

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"torrentsready/internal/trd"
)

// FileSystemOutbound delivers artifacts into per-user inbox directories:
//
//	<root>/
//	  <messengerID>/
//	    <artifact>
//
// A user becomes a known recipient once their inbox exists, which happens
// when they acknowledge delivery consent.
type FileSystemOutbound struct {
	root string
}

var (
	_ trd.Outbound        = (*FileSystemOutbound)(nil)
	_ trd.ConsentRecorder = (*FileSystemOutbound)(nil)
)

// NewFileSystemOutbound creates an outbound channel rooted at root.
func NewFileSystemOutbound(root string) (*FileSystemOutbound, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create outbox root: %w", err)
	}
	return &FileSystemOutbound{root: root}, nil
}

// Root returns the outbox directory.
func (o *FileSystemOutbound) Root() string {
	return o.root
}

func (o *FileSystemOutbound) inbox(messengerID int64) string {
	return filepath.Join(o.root, strconv.FormatInt(messengerID, 10))
}

func (o *FileSystemOutbound) IsKnownRecipient(_ context.Context, messengerID int64) (bool, error) {
	info, err := os.Stat(o.inbox(messengerID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("checking inbox: %w", err)
	}
	return info.IsDir(), nil
}

func (o *FileSystemOutbound) RecordConsent(_ context.Context, messengerID int64) error {
	if err := os.MkdirAll(o.inbox(messengerID), 0o755); err != nil {
		return fmt.Errorf("creating inbox: %w", err)
	}
	return nil
}

// SendDocument copies the file at path into the user's inbox and returns the
// delivered path.
func (o *FileSystemOutbound) SendDocument(ctx context.Context, messengerID int64, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", trd.ErrTransport, err)
	}
	known, err := o.IsKnownRecipient(ctx, messengerID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", trd.ErrTransport, err)
	}
	if !known {
		return "", fmt.Errorf("%w: no inbox for %d", trd.ErrRecipientUnreachable, messengerID)
	}

	src, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", trd.ErrArtifactMissing, path)
		}
		return "", fmt.Errorf("%w: opening artifact: %v", trd.ErrTransport, err)
	}
	defer src.Close()

	dest := filepath.Join(o.inbox(messengerID), filepath.Base(path))
	if err := writeFile(dest, src); err != nil {
		return "", fmt.Errorf("%w: %v", trd.ErrTransport, err)
	}
	return dest, nil
}

// writeFile writes r to destPath via a temp file and rename, so readers of
// the inbox never see a partial artifact.
func writeFile(destPath string, r io.Reader) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, r); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
