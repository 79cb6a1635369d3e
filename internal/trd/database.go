package trd

import (
	"context"
	"time"

	"torrentsready/internal/model"
)

// Database is the registry: the single source of truth for users, torrents,
// contents, their associations and queued deliveries. Lookups return
// (nil, nil) when nothing matches. Implementations serialize conflicting
// writes through unique constraints and transactions.
type Database interface {
	// User operations

	// GetOrCreateUser returns the user with u.MessengerID, creating it from u if absent.
	GetOrCreateUser(ctx context.Context, u *model.User) (*model.User, error)

	FindUserByMessengerID(ctx context.Context, messengerID int64) (*model.User, error)
	FindUserByID(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)

	// SetUserBlocked marks the user as refusing delivery until consent is acknowledged.
	SetUserBlocked(ctx context.Context, userID int64) error

	// MarkUnblockingMessageSent records that the consent prompt went out.
	// It reports false if it had already been recorded for this block episode.
	MarkUnblockingMessageSent(ctx context.Context, userID int64) (bool, error)

	// UnblockUser clears both the blocked flag and the prompt flag.
	UnblockUser(ctx context.Context, userID int64) error

	// Torrent operations

	// GetOrCreateTorrent returns the torrent with t.Hash, creating it from t if absent.
	// Concurrent calls for one hash converge on a single row.
	GetOrCreateTorrent(ctx context.Context, t *model.Torrent) (*model.Torrent, error)

	FindTorrentByHash(ctx context.Context, hash string) (*model.Torrent, error)
	FindTorrentByID(ctx context.Context, id int64) (*model.Torrent, error)
	ListTorrents(ctx context.Context) ([]*model.Torrent, error)
	ListProcessingTorrents(ctx context.Context) ([]*model.Torrent, error)

	// Content operations

	// ListContents returns a torrent's contents ordered by index.
	ListContents(ctx context.Context, torrentID int64) ([]*model.Content, error)

	// CreateContents inserts contents for a torrent unless it already has some,
	// and returns the torrent's contents either way.
	CreateContents(ctx context.Context, torrentID int64, contents []*model.Content) ([]*model.Content, error)

	FindContentsByIDs(ctx context.Context, ids []int64) ([]*model.Content, error)

	// MarkContentReady sets ready and the save path together. It reports
	// false if the content was already ready.
	MarkContentReady(ctx context.Context, contentID int64, savePath string) (bool, error)

	// Association operations

	// LinkUserTorrent associates a user with a torrent. Repeating it is a no-op.
	LinkUserTorrent(ctx context.Context, userID, torrentID int64) error

	// CountUserTorrents counts the user's associations to torrents not marked bad.
	CountUserTorrents(ctx context.Context, userID int64) (int, error)

	ListTorrentUserIDs(ctx context.Context, torrentID int64) ([]int64, error)
	ListUserTorrents(ctx context.Context, userID int64) ([]*model.TorrentSummary, error)

	// ListUserContentIDs returns the contents of a torrent the user selected.
	ListUserContentIDs(ctx context.Context, userID, torrentID int64) ([]int64, error)

	// SaveSelection persists the user's selected contents, drops any queued
	// delivery for the pair that is not in flight, and marks the torrent as
	// sent to the engine and processing, in one transaction.
	SaveSelection(ctx context.Context, userID, torrentID int64, contentIDs []int64, sentAt time.Time) error

	// ReleaseUser removes the user's content and torrent associations for the
	// torrent and any delivery task of theirs for it, then counts remaining
	// associated users. When none remain, it clears is_processing and deletes
	// the torrent's contents. All in one transaction.
	ReleaseUser(ctx context.Context, userID, torrentID int64) (*Release, error)

	// ReleaseDelivered removes the delivered contents from the user's
	// selection and deletes the delivery task. Only when nothing else stays
	// selected does it go on like ReleaseUser.
	ReleaseDelivered(ctx context.Context, userID, torrentID int64, contentIDs []int64) (*Release, error)

	// Delivery queue operations

	// EnqueueDelivery queues a delivery unless one already exists for the
	// (user, torrent) pair. It reports whether a task was created.
	EnqueueDelivery(ctx context.Context, userID, torrentID int64, contentIDs []int64, now time.Time) (bool, error)

	// ClaimDelivery moves the oldest due pending task to in_flight and returns it.
	ClaimDelivery(ctx context.Context, now time.Time) (*model.DeliveryTask, error)

	// UpdateDelivery records the outcome of an attempt.
	UpdateDelivery(ctx context.Context, task *model.DeliveryTask) error

	FindDelivery(ctx context.Context, id int64) (*model.DeliveryTask, error)
	ListDeliveries(ctx context.Context) ([]*model.DeliveryTask, error)

	// ResetStaleDeliveries returns in_flight tasks left by a previous process to pending.
	ResetStaleDeliveries(ctx context.Context, now time.Time) (int64, error)

	// RequeueParkedDeliveries returns the user's parked tasks to pending.
	RequeueParkedDeliveries(ctx context.Context, userID int64, now time.Time) (int64, error)

	// CheckMigrations verifies the schema is at the latest version.
	CheckMigrations() error

	// Close closes the database connection.
	Close() error
}

// Release describes the effect of ReleaseUser on the shared torrent.
type Release struct {
	Remaining int  // Users still associated
	Released  bool // No user remains; contents deleted
}
