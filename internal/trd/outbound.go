package trd

import (
	"context"
	"errors"
)

// Outcomes of SendDocument other than success.
var (
	// ErrRecipientUnreachable means the recipient has not allowed delivery yet.
	ErrRecipientUnreachable = errors.New("recipient unreachable")
	// ErrTransport is a transient failure worth retrying.
	ErrTransport = errors.New("transport failure")
	// ErrArtifactMissing means the file to send is not on disk.
	ErrArtifactMissing = errors.New("artifact missing")
)

// Outbound is the channel that hands finished artifacts to users.
type Outbound interface {
	// IsKnownRecipient reports whether the channel may deliver to the user.
	IsKnownRecipient(ctx context.Context, messengerID int64) (bool, error)

	// SendDocument delivers the file at path and returns a reference to the
	// delivered message. Failures wrap ErrRecipientUnreachable, ErrTransport
	// or ErrArtifactMissing.
	SendDocument(ctx context.Context, messengerID int64, path string) (string, error)
}

// ConsentRecorder is implemented by channels that learn about consent from
// the core rather than from the messenger itself.
type ConsentRecorder interface {
	RecordConsent(ctx context.Context, messengerID int64) error
}

// Notifier sends short notices to users through the messaging front-end.
type Notifier interface {
	// ConsentRequired asks the user for the one-time delivery consent.
	ConsentRequired(ctx context.Context, messengerID int64) error
	// Delivered tells the user their files were sent.
	Delivered(ctx context.Context, messengerID int64, title, ref string) error
}

// LogNotifier is a Notifier that only writes to the log. Used when no
// front-end is attached, such as one-shot CLI runs.
type LogNotifier struct {
	Logger Logger
}

var _ Notifier = LogNotifier{}

func (n LogNotifier) ConsentRequired(_ context.Context, messengerID int64) error {
	n.Logger.Info("consent required", "messenger_id", messengerID)
	return nil
}

func (n LogNotifier) Delivered(_ context.Context, messengerID int64, title, ref string) error {
	n.Logger.Info("delivered", "messenger_id", messengerID, "title", title, "ref", ref)
	return nil
}
