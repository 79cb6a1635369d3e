package outbound

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"torrentsready/internal/config"
	"torrentsready/internal/encryption"
	"torrentsready/internal/trd"
)

func TestSealedOutbound_SendsEncryptedCopy(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryOutbound()
	enc := encryption.NewTestEncryptor()
	o := NewSealedOutbound(inner, enc, t.TempDir())

	if err := o.RecordConsent(ctx, 5); err != nil {
		t.Fatalf("RecordConsent() error = %v", err)
	}
	if known, _ := o.IsKnownRecipient(ctx, 5); !known {
		t.Fatal("IsKnownRecipient() = false after consent through wrapper")
	}

	if _, err := o.SendDocument(ctx, 5, writeArtifact(t, "Album.zip", "plain bytes")); err != nil {
		t.Fatalf("SendDocument() error = %v", err)
	}

	sent := inner.Sent()
	if len(sent) != 1 {
		t.Fatalf("inner received %d documents, want 1", len(sent))
	}
	if sent[0].Name != "Album.zip.age" {
		t.Errorf("sent name = %q, want Album.zip.age", sent[0].Name)
	}
	if bytes.Equal(sent[0].Data, []byte("plain bytes")) {
		t.Error("inner received plaintext")
	}

	dctx, err := enc.Unlock("")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var opened bytes.Buffer
	if err := dctx.Decrypt(bytes.NewReader(sent[0].Data), &opened); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if opened.String() != "plain bytes" {
		t.Errorf("opened = %q, want %q", opened.String(), "plain bytes")
	}
}

func TestSealedOutbound_MissingArtifact(t *testing.T) {
	o := NewSealedOutbound(NewMemoryOutbound(), encryption.NewTestEncryptor(), "")
	_, err := o.SendDocument(context.Background(), 1, filepath.Join(t.TempDir(), "gone"))
	if !errors.Is(err, trd.ErrArtifactMissing) {
		t.Errorf("SendDocument() error = %v, want ErrArtifactMissing", err)
	}
}

func TestNewOutboundFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("filesystem", func(t *testing.T) {
		got, err := NewOutboundFromConfig(ctx, config.OutboundConfig{Type: "filesystem", Root: t.TempDir()}, nil, "")
		if err != nil {
			t.Fatalf("NewOutboundFromConfig() error = %v", err)
		}
		if _, ok := got.(*FileSystemOutbound); !ok {
			t.Errorf("NewOutboundFromConfig() = %T, want *FileSystemOutbound", got)
		}
	})

	t.Run("filesystem without root", func(t *testing.T) {
		if _, err := NewOutboundFromConfig(ctx, config.OutboundConfig{Type: "filesystem"}, nil, ""); err == nil {
			t.Error("NewOutboundFromConfig() error = nil, want error")
		}
	})

	t.Run("s3 without bucket", func(t *testing.T) {
		if _, err := NewOutboundFromConfig(ctx, config.OutboundConfig{Type: "s3"}, nil, ""); err == nil {
			t.Error("NewOutboundFromConfig() error = nil, want error")
		}
	})

	t.Run("encrypted memory", func(t *testing.T) {
		got, err := NewOutboundFromConfig(ctx, config.OutboundConfig{Type: "memory", Encrypt: true}, encryption.NewTestEncryptor(), "")
		if err != nil {
			t.Fatalf("NewOutboundFromConfig() error = %v", err)
		}
		if _, ok := got.(*SealedOutbound); !ok {
			t.Errorf("NewOutboundFromConfig() = %T, want *SealedOutbound", got)
		}
	})

	t.Run("encryption without keys", func(t *testing.T) {
		if _, err := NewOutboundFromConfig(ctx, config.OutboundConfig{Type: "memory", Encrypt: true}, nil, ""); err == nil {
			t.Error("NewOutboundFromConfig() error = nil, want error")
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, err := NewOutboundFromConfig(ctx, config.OutboundConfig{Type: "carrier-pigeon"}, nil, ""); err == nil {
			t.Error("NewOutboundFromConfig() error = nil, want error")
		}
	})
}
