package trd

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// flakyEngine fails each op with ErrAuthExpired while expired is set.
type flakyEngine struct {
	expired   bool
	failAuth  bool
	authCalls int
	calls     int
}

func (e *flakyEngine) check() error {
	e.calls++
	if e.expired {
		return fmt.Errorf("forbidden: %w", ErrAuthExpired)
	}
	return nil
}

func (e *flakyEngine) Authenticate(context.Context) error {
	e.authCalls++
	if e.failAuth {
		return errors.New("bad credentials")
	}
	e.expired = false
	return nil
}

func (e *flakyEngine) AddTorrent(context.Context, string, string) error { return e.check() }

func (e *flakyEngine) GetFiles(context.Context, string) ([]EngineFile, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	return []EngineFile{{Index: 0, Name: "a", Size: 1}}, nil
}

func (e *flakyEngine) GetTorrentMeta(context.Context, string) (*TorrentMeta, error) {
	return nil, e.check()
}

func (e *flakyEngine) SetFilePriority(context.Context, string, int, int) error { return e.check() }

func (e *flakyEngine) RemoveTorrentAndData(context.Context, string) error { return e.check() }

func TestReauthEngine(t *testing.T) {
	ctx := context.Background()

	t.Run("retries once after re-authenticating", func(t *testing.T) {
		inner := &flakyEngine{expired: true}
		e := NewReauthEngine(inner, NewNopLogger())

		files, err := e.GetFiles(ctx, "h")
		if err != nil {
			t.Fatalf("GetFiles() error = %v", err)
		}
		if len(files) != 1 {
			t.Errorf("GetFiles() returned %d files, want 1", len(files))
		}
		if inner.authCalls != 1 || inner.calls != 2 {
			t.Errorf("authCalls = %d, calls = %d, want 1 and 2", inner.authCalls, inner.calls)
		}
	})

	t.Run("no re-auth on success", func(t *testing.T) {
		inner := &flakyEngine{}
		e := NewReauthEngine(inner, NewNopLogger())
		if err := e.AddTorrent(ctx, "m", "/d"); err != nil {
			t.Fatalf("AddTorrent() error = %v", err)
		}
		if inner.authCalls != 0 {
			t.Errorf("authCalls = %d, want 0", inner.authCalls)
		}
	})

	t.Run("failed re-auth is reported", func(t *testing.T) {
		inner := &flakyEngine{expired: true, failAuth: true}
		e := NewReauthEngine(inner, NewNopLogger())
		if err := e.SetFilePriority(ctx, "h", 0, PriorityNormal); err == nil {
			t.Fatal("SetFilePriority() error = nil, want error")
		}
		if inner.calls != 1 {
			t.Errorf("calls = %d, want 1 (no retry without a session)", inner.calls)
		}
	})

	t.Run("other errors pass through", func(t *testing.T) {
		boom := errors.New("boom")
		e := NewReauthEngine(&erroringEngine{err: boom}, NewNopLogger())
		if err := e.RemoveTorrentAndData(ctx, "h"); !errors.Is(err, boom) {
			t.Errorf("RemoveTorrentAndData() error = %v, want boom", err)
		}
	})
}

type erroringEngine struct {
	flakyEngine
	err error
}

func (e *erroringEngine) RemoveTorrentAndData(context.Context, string) error { return e.err }
