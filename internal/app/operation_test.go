package app_test

import (
	"testing"
	"time"

	"torrentsready/internal/app"
	"torrentsready/internal/testutil"
)

func TestNewRun(t *testing.T) {
	ids := testutil.NewStubIDGenerator()
	clock := testutil.FixedClock()

	tests := []struct {
		name    string
		command string
		wantID  string
	}{
		{name: "first run", command: "serve", wantID: "run-1"},
		{name: "ids are not reused", command: "reconcile", wantID: "run-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := app.NewRun(tt.command, ids, clock)

			if r.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", r.ID, tt.wantID)
			}
			if r.Command != tt.command {
				t.Errorf("Command = %q, want %q", r.Command, tt.command)
			}
			if r.Status != "success" {
				t.Errorf("Status = %q, want %q", r.Status, "success")
			}
			if !r.StartedAt.Equal(clock.Now()) {
				t.Errorf("StartedAt = %v, want %v", r.StartedAt, clock.Now())
			}
		})
	}
}

func TestRun_FailAndElapsed(t *testing.T) {
	clock := testutil.FixedClock()
	r := app.NewRun("deliveries retry", testutil.NewStubIDGenerator(), clock)

	clock.Advance(1500 * time.Millisecond)
	r.Fail()

	if r.Status != "error" {
		t.Errorf("Status = %q, want %q", r.Status, "error")
	}
	if got := r.Elapsed(clock); got != 1500*time.Millisecond {
		t.Errorf("Elapsed() = %v, want 1.5s", got)
	}
}
