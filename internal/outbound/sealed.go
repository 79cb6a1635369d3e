package outbound

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"torrentsready/internal/trd"
)

// SealedOutbound encrypts each artifact before handing it to the wrapped
// channel. Recipients see <name>.age.
type SealedOutbound struct {
	inner     trd.Outbound
	encryptor trd.Encryptor
	tmpDir    string
}

var (
	_ trd.Outbound        = (*SealedOutbound)(nil)
	_ trd.ConsentRecorder = (*SealedOutbound)(nil)
)

// NewSealedOutbound wraps inner. Sealed copies are staged in tmpDir, or the
// system temp directory when tmpDir is empty.
func NewSealedOutbound(inner trd.Outbound, encryptor trd.Encryptor, tmpDir string) *SealedOutbound {
	return &SealedOutbound{inner: inner, encryptor: encryptor, tmpDir: tmpDir}
}

func (o *SealedOutbound) IsKnownRecipient(ctx context.Context, messengerID int64) (bool, error) {
	return o.inner.IsKnownRecipient(ctx, messengerID)
}

func (o *SealedOutbound) RecordConsent(ctx context.Context, messengerID int64) error {
	if rec, ok := o.inner.(trd.ConsentRecorder); ok {
		return rec.RecordConsent(ctx, messengerID)
	}
	return nil
}

func (o *SealedOutbound) SendDocument(ctx context.Context, messengerID int64, path string) (string, error) {
	sealed, cleanup, err := o.seal(path)
	if err != nil {
		return "", err
	}
	defer cleanup()
	return o.inner.SendDocument(ctx, messengerID, sealed)
}

// seal writes the encrypted copy of path to a private temp directory.
func (o *SealedOutbound) seal(path string) (string, func(), error) {
	src, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, fmt.Errorf("%w: %s", trd.ErrArtifactMissing, path)
		}
		return "", nil, fmt.Errorf("%w: opening artifact: %v", trd.ErrTransport, err)
	}
	defer src.Close()

	dir, err := os.MkdirTemp(o.tmpDir, "trd-seal-*")
	if err != nil {
		return "", nil, fmt.Errorf("%w: creating seal dir: %v", trd.ErrTransport, err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	dest := filepath.Join(dir, filepath.Base(path)+".age")
	out, err := os.Create(dest)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("%w: creating sealed file: %v", trd.ErrTransport, err)
	}
	if err := o.encryptor.Encrypt(src, out); err != nil {
		out.Close()
		cleanup()
		return "", nil, fmt.Errorf("%w: sealing %s: %v", trd.ErrTransport, path, err)
	}
	if err := out.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("%w: closing sealed file: %v", trd.ErrTransport, err)
	}
	return dest, cleanup, nil
}
