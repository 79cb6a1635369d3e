package trd

import (
	"context"
	"fmt"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	Active  int
	Limit   int
}

// Admission caps how many torrents a user may have in progress at once.
type Admission struct {
	database Database
	limit    int
}

func NewAdmission(database Database, maxActiveTorrents int) *Admission {
	return &Admission{database: database, limit: maxActiveTorrents}
}

// CanAdmit reports whether the user may add another torrent. An unknown
// user fails closed with ErrUserNotFound, which callers must treat as an
// operational error rather than a refusal.
func (a *Admission) CanAdmit(ctx context.Context, messengerID int64) (Decision, error) {
	user, err := a.database.FindUserByMessengerID(ctx, messengerID)
	if err != nil {
		return Decision{}, fmt.Errorf("finding user: %w", err)
	}
	if user == nil {
		return Decision{}, fmt.Errorf("messenger id %d: %w", messengerID, ErrUserNotFound)
	}

	active, err := a.database.CountUserTorrents(ctx, user.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("counting active torrents: %w", err)
	}

	return Decision{
		Allowed: active < a.limit,
		Active:  active,
		Limit:   a.limit,
	}, nil
}

// Check is CanAdmit folded into a single error: nil when admitted, a
// *PolicyError when over the limit.
func (a *Admission) Check(ctx context.Context, messengerID int64) error {
	d, err := a.CanAdmit(ctx, messengerID)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return &PolicyError{Kind: OverLimit, Limit: int64(d.Limit), Got: int64(d.Active)}
	}
	return nil
}
