package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"torrentsready/internal/trd"
)

var testHeader = []byte("TRDSEAL\x00")

// TestEncryptor marks sealed output with a fixed header and needs no keys.
// For tests only.
type TestEncryptor struct {
	setupCalled bool
}

var _ trd.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(string) error {
	e.setupCalled = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(string) (trd.DecryptionContext, error) {
	return testDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

type testDecryptionContext struct{}

func (testDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return errors.New("input was not sealed by TestEncryptor")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
