package outbound

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"torrentsready/internal/trd"
)

func writeArtifact(t *testing.T, name, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("writing artifact: %v", err)
	}
	return p
}

func TestFileSystemOutbound_ConsentAndSend(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "outbox")

	o, err := NewFileSystemOutbound(root)
	if err != nil {
		t.Fatalf("NewFileSystemOutbound() error = %v", err)
	}
	artifact := writeArtifact(t, "Album.zip", "zipped")

	known, err := o.IsKnownRecipient(ctx, 42)
	if err != nil {
		t.Fatalf("IsKnownRecipient() error = %v", err)
	}
	if known {
		t.Fatal("IsKnownRecipient() = true before consent")
	}

	if _, err := o.SendDocument(ctx, 42, artifact); !errors.Is(err, trd.ErrRecipientUnreachable) {
		t.Fatalf("SendDocument() before consent error = %v, want ErrRecipientUnreachable", err)
	}

	if err := o.RecordConsent(ctx, 42); err != nil {
		t.Fatalf("RecordConsent() error = %v", err)
	}
	if known, _ := o.IsKnownRecipient(ctx, 42); !known {
		t.Fatal("IsKnownRecipient() = false after consent")
	}

	ref, err := o.SendDocument(ctx, 42, artifact)
	if err != nil {
		t.Fatalf("SendDocument() error = %v", err)
	}
	want := filepath.Join(root, "42", "Album.zip")
	if ref != want {
		t.Errorf("SendDocument() ref = %q, want %q", ref, want)
	}
	got, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("reading delivered file: %v", err)
	}
	if string(got) != "zipped" {
		t.Errorf("delivered content = %q, want %q", got, "zipped")
	}

	entries, _ := os.ReadDir(filepath.Join(root, "42"))
	if len(entries) != 1 {
		t.Errorf("inbox holds %d entries, want 1 (no temp files left behind)", len(entries))
	}
}

func TestFileSystemOutbound_MissingArtifact(t *testing.T) {
	ctx := context.Background()
	o, err := NewFileSystemOutbound(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemOutbound() error = %v", err)
	}
	if err := o.RecordConsent(ctx, 7); err != nil {
		t.Fatalf("RecordConsent() error = %v", err)
	}

	_, err = o.SendDocument(ctx, 7, filepath.Join(t.TempDir(), "gone.zip"))
	if !errors.Is(err, trd.ErrArtifactMissing) {
		t.Errorf("SendDocument() error = %v, want ErrArtifactMissing", err)
	}
}

func TestFileSystemOutbound_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o, err := NewFileSystemOutbound(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemOutbound() error = %v", err)
	}
	_, err = o.SendDocument(ctx, 1, writeArtifact(t, "a.bin", "x"))
	if !errors.Is(err, trd.ErrTransport) {
		t.Errorf("SendDocument() error = %v, want ErrTransport", err)
	}
}
