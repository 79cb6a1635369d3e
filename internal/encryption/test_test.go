package encryption

import (
	"bytes"
	"testing"
)

func TestTestEncryptor_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "empty", input: []byte{}},
		{name: "archive bytes", input: []byte("PK\x03\x04 zipped album")},
		{name: "large", input: bytes.Repeat([]byte("track"), 20000)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := NewTestEncryptor()
			var sealed bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.input), &sealed); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if !bytes.HasPrefix(sealed.Bytes(), testHeader) {
				t.Error("sealed output does not start with test header")
			}

			dctx, err := e.Unlock("ignored")
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			var opened bytes.Buffer
			if err := dctx.Decrypt(&sealed, &opened); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(opened.Bytes(), tt.input) {
				t.Errorf("round-trip mismatch: got %d bytes, want %d", opened.Len(), len(tt.input))
			}
		})
	}
}

func TestTestDecryptionContext_RejectsForeignInput(t *testing.T) {
	t.Parallel()

	for name, input := range map[string][]byte{
		"wrong header": []byte("NOTSEALED data"),
		"truncated":    []byte("TRD"),
		"empty":        nil,
	} {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			if err := (testDecryptionContext{}).Decrypt(bytes.NewReader(input), &out); err == nil {
				t.Error("Decrypt() error = nil, want error")
			}
		})
	}
}
