package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"torrentsready/internal/database/migrations"
	"torrentsready/internal/model"
	"torrentsready/internal/trd"
)

// SQLDatabase implements trd.Database on SQLite or PostgreSQL.
type SQLDatabase struct {
	db      *sql.DB
	queries *Queries
	dialect migrations.Dialect
	path    string
}

// NewSQLiteDatabase opens the SQLite database at path and migrates it to
// the latest schema. path can be ":memory:".
func NewSQLiteDatabase(path string) (*SQLDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db, migrations.SQLite); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLDatabase{
		db:      db,
		queries: New(db),
		dialect: migrations.SQLite,
		path:    path,
	}, nil
}

// NewSQLDatabaseFromDB wraps an existing, already migrated connection.
func NewSQLDatabaseFromDB(db *sql.DB, dialect migrations.Dialect) *SQLDatabase {
	return &SQLDatabase{
		db:      db,
		queries: New(db),
		dialect: dialect,
	}
}

// OpenConnection opens and configures a SQLite connection. Exported for
// tools and tests. path can be ":memory:".
func OpenConnection(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Every connection would see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// inTx runs fn in a transaction and commits if fn succeeds.
func (s *SQLDatabase) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// notFound turns sql.ErrNoRows into (nil, nil).
func notFound[T any](v *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

// User operations

func (s *SQLDatabase) GetOrCreateUser(ctx context.Context, u *model.User) (*model.User, error) {
	created, err := notFound(s.queries.InsertUser(ctx, u))
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	if created != nil {
		return created, nil
	}
	existing, err := s.queries.GetUserByMessengerID(ctx, u.MessengerID)
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return existing, nil
}

func (s *SQLDatabase) FindUserByMessengerID(ctx context.Context, messengerID int64) (*model.User, error) {
	u, err := notFound(s.queries.GetUserByMessengerID(ctx, messengerID))
	if err != nil {
		return nil, fmt.Errorf("finding user by messenger id: %w", err)
	}
	return u, nil
}

func (s *SQLDatabase) FindUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := notFound(s.queries.GetUserByID(ctx, id))
	if err != nil {
		return nil, fmt.Errorf("finding user by id: %w", err)
	}
	return u, nil
}

func (s *SQLDatabase) ListUsers(ctx context.Context) ([]*model.User, error) {
	users, err := s.queries.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

func (s *SQLDatabase) SetUserBlocked(ctx context.Context, userID int64) error {
	if err := s.queries.SetUserBlocked(ctx, userID); err != nil {
		return fmt.Errorf("blocking user: %w", err)
	}
	return nil
}

func (s *SQLDatabase) MarkUnblockingMessageSent(ctx context.Context, userID int64) (bool, error) {
	n, err := s.queries.MarkUnblockingMessageSent(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("marking consent prompt sent: %w", err)
	}
	return n == 1, nil
}

func (s *SQLDatabase) UnblockUser(ctx context.Context, userID int64) error {
	if err := s.queries.UnblockUser(ctx, userID); err != nil {
		return fmt.Errorf("unblocking user: %w", err)
	}
	return nil
}

// Torrent operations

func (s *SQLDatabase) GetOrCreateTorrent(ctx context.Context, t *model.Torrent) (*model.Torrent, error) {
	created, err := notFound(s.queries.InsertTorrent(ctx, t))
	if err != nil {
		return nil, fmt.Errorf("creating torrent: %w", err)
	}
	if created != nil {
		return created, nil
	}
	existing, err := s.queries.GetTorrentByHash(ctx, t.Hash)
	if err != nil {
		return nil, fmt.Errorf("finding torrent: %w", err)
	}
	return existing, nil
}

func (s *SQLDatabase) FindTorrentByHash(ctx context.Context, hash string) (*model.Torrent, error) {
	t, err := notFound(s.queries.GetTorrentByHash(ctx, hash))
	if err != nil {
		return nil, fmt.Errorf("finding torrent by hash: %w", err)
	}
	return t, nil
}

func (s *SQLDatabase) FindTorrentByID(ctx context.Context, id int64) (*model.Torrent, error) {
	t, err := notFound(s.queries.GetTorrentByID(ctx, id))
	if err != nil {
		return nil, fmt.Errorf("finding torrent by id: %w", err)
	}
	return t, nil
}

func (s *SQLDatabase) ListTorrents(ctx context.Context) ([]*model.Torrent, error) {
	torrents, err := s.queries.ListTorrents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing torrents: %w", err)
	}
	return torrents, nil
}

func (s *SQLDatabase) ListProcessingTorrents(ctx context.Context) ([]*model.Torrent, error) {
	torrents, err := s.queries.ListProcessingTorrents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processing torrents: %w", err)
	}
	return torrents, nil
}

// Content operations

func (s *SQLDatabase) ListContents(ctx context.Context, torrentID int64) ([]*model.Content, error) {
	contents, err := s.queries.ListContents(ctx, torrentID)
	if err != nil {
		return nil, fmt.Errorf("listing contents: %w", err)
	}
	return contents, nil
}

func (s *SQLDatabase) CreateContents(ctx context.Context, torrentID int64, contents []*model.Content) ([]*model.Content, error) {
	var out []*model.Content
	err := s.inTx(ctx, func(q *Queries) error {
		existing, err := q.ListContents(ctx, torrentID)
		if err != nil {
			return fmt.Errorf("listing contents: %w", err)
		}
		if len(existing) > 0 {
			out = existing
			return nil
		}
		for _, c := range contents {
			c.TorrentID = torrentID
			if err := q.InsertContent(ctx, c); err != nil {
				return fmt.Errorf("inserting content %d: %w", c.Index, err)
			}
		}
		out, err = q.ListContents(ctx, torrentID)
		if err != nil {
			return fmt.Errorf("listing contents: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLDatabase) FindContentsByIDs(ctx context.Context, ids []int64) ([]*model.Content, error) {
	contents, err := s.queries.GetContentsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("finding contents: %w", err)
	}
	return contents, nil
}

func (s *SQLDatabase) MarkContentReady(ctx context.Context, contentID int64, savePath string) (bool, error) {
	n, err := s.queries.MarkContentReady(ctx, savePath, contentID)
	if err != nil {
		return false, fmt.Errorf("marking content ready: %w", err)
	}
	return n == 1, nil
}

// Association operations

func (s *SQLDatabase) LinkUserTorrent(ctx context.Context, userID, torrentID int64) error {
	if err := s.queries.InsertUserTorrent(ctx, userID, torrentID, time.Now().UTC()); err != nil {
		return fmt.Errorf("linking user to torrent: %w", err)
	}
	return nil
}

func (s *SQLDatabase) CountUserTorrents(ctx context.Context, userID int64) (int, error) {
	n, err := s.queries.CountUserTorrents(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("counting user torrents: %w", err)
	}
	return n, nil
}

func (s *SQLDatabase) ListTorrentUserIDs(ctx context.Context, torrentID int64) ([]int64, error) {
	ids, err := s.queries.ListTorrentUserIDs(ctx, torrentID)
	if err != nil {
		return nil, fmt.Errorf("listing torrent users: %w", err)
	}
	return ids, nil
}

func (s *SQLDatabase) ListUserTorrents(ctx context.Context, userID int64) ([]*model.TorrentSummary, error) {
	torrents, err := s.queries.ListUserTorrents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user torrents: %w", err)
	}
	return torrents, nil
}

func (s *SQLDatabase) ListUserContentIDs(ctx context.Context, userID, torrentID int64) ([]int64, error) {
	ids, err := s.queries.ListUserContentIDs(ctx, userID, torrentID)
	if err != nil {
		return nil, fmt.Errorf("listing user contents: %w", err)
	}
	return ids, nil
}

func (s *SQLDatabase) SaveSelection(ctx context.Context, userID, torrentID int64, contentIDs []int64, sentAt time.Time) error {
	return s.inTx(ctx, func(q *Queries) error {
		if err := q.InsertUserTorrent(ctx, userID, torrentID, sentAt); err != nil {
			return fmt.Errorf("linking user to torrent: %w", err)
		}
		// Replace, so finalizing again yields exactly the new selection.
		if err := q.DeleteUserContents(ctx, userID, torrentID); err != nil {
			return fmt.Errorf("clearing previous selection: %w", err)
		}
		for _, id := range contentIDs {
			if err := q.InsertUserContent(ctx, userID, id); err != nil {
				return fmt.Errorf("saving content %d: %w", id, err)
			}
		}
		// A queued task carries the old selection; the next cycle queues the new one.
		if err := q.DeleteIdleDelivery(ctx, userID, torrentID); err != nil {
			return fmt.Errorf("dropping queued delivery: %w", err)
		}
		if err := q.MarkTorrentSent(ctx, sentAt, torrentID); err != nil {
			return fmt.Errorf("marking torrent sent: %w", err)
		}
		return nil
	})
}

func (s *SQLDatabase) ReleaseUser(ctx context.Context, userID, torrentID int64) (*trd.Release, error) {
	rel := &trd.Release{}
	err := s.inTx(ctx, func(q *Queries) error {
		if err := q.DeleteUserContents(ctx, userID, torrentID); err != nil {
			return fmt.Errorf("deleting user contents: %w", err)
		}
		return releaseUserTorrent(ctx, q, userID, torrentID, rel)
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

func (s *SQLDatabase) ReleaseDelivered(ctx context.Context, userID, torrentID int64, contentIDs []int64) (*trd.Release, error) {
	rel := &trd.Release{}
	err := s.inTx(ctx, func(q *Queries) error {
		for _, id := range contentIDs {
			if err := q.DeleteUserContent(ctx, userID, id); err != nil {
				return fmt.Errorf("deleting user content %d: %w", id, err)
			}
		}
		left, err := q.ListUserContentIDs(ctx, userID, torrentID)
		if err != nil {
			return fmt.Errorf("listing remaining selection: %w", err)
		}
		if len(left) == 0 {
			return releaseUserTorrent(ctx, q, userID, torrentID, rel)
		}
		// The selection grew while this delivery was in flight; the user
		// keeps the torrent and the rest is queued by a later cycle.
		if err := q.DeleteDelivery(ctx, userID, torrentID); err != nil {
			return fmt.Errorf("deleting delivery: %w", err)
		}
		remaining, err := q.CountTorrentUsers(ctx, torrentID)
		if err != nil {
			return fmt.Errorf("counting torrent users: %w", err)
		}
		rel.Remaining = remaining
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// releaseUserTorrent drops the user's link to the torrent and its delivery
// task, and deletes the torrent's contents when no user remains.
func releaseUserTorrent(ctx context.Context, q *Queries, userID, torrentID int64, rel *trd.Release) error {
	if err := q.DeleteUserTorrent(ctx, userID, torrentID); err != nil {
		return fmt.Errorf("deleting user torrent: %w", err)
	}
	if err := q.DeleteDelivery(ctx, userID, torrentID); err != nil {
		return fmt.Errorf("deleting delivery: %w", err)
	}
	remaining, err := q.CountTorrentUsers(ctx, torrentID)
	if err != nil {
		return fmt.Errorf("counting torrent users: %w", err)
	}
	rel.Remaining = remaining
	if remaining > 0 {
		return nil
	}
	if err := q.ClearTorrentProcessing(ctx, torrentID); err != nil {
		return fmt.Errorf("clearing processing flag: %w", err)
	}
	if err := q.DeleteTorrentContents(ctx, torrentID); err != nil {
		return fmt.Errorf("deleting contents: %w", err)
	}
	rel.Released = true
	return nil
}

// Delivery queue operations

func (s *SQLDatabase) EnqueueDelivery(ctx context.Context, userID, torrentID int64, contentIDs []int64, now time.Time) (bool, error) {
	n, err := s.queries.InsertDelivery(ctx, userID, torrentID, contentIDs, now)
	if err != nil {
		return false, fmt.Errorf("enqueueing delivery: %w", err)
	}
	return n == 1, nil
}

func (s *SQLDatabase) ClaimDelivery(ctx context.Context, now time.Time) (*model.DeliveryTask, error) {
	d, err := notFound(s.queries.ClaimDelivery(ctx, now))
	if err != nil {
		return nil, fmt.Errorf("claiming delivery: %w", err)
	}
	return d, nil
}

func (s *SQLDatabase) UpdateDelivery(ctx context.Context, task *model.DeliveryTask) error {
	if err := s.queries.UpdateDelivery(ctx, task); err != nil {
		return fmt.Errorf("updating delivery: %w", err)
	}
	return nil
}

func (s *SQLDatabase) FindDelivery(ctx context.Context, id int64) (*model.DeliveryTask, error) {
	d, err := notFound(s.queries.GetDelivery(ctx, id))
	if err != nil {
		return nil, fmt.Errorf("finding delivery: %w", err)
	}
	return d, nil
}

func (s *SQLDatabase) ListDeliveries(ctx context.Context) ([]*model.DeliveryTask, error) {
	tasks, err := s.queries.ListDeliveries(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing deliveries: %w", err)
	}
	return tasks, nil
}

func (s *SQLDatabase) ResetStaleDeliveries(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.queries.ResetStaleDeliveries(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("resetting stale deliveries: %w", err)
	}
	return n, nil
}

func (s *SQLDatabase) RequeueParkedDeliveries(ctx context.Context, userID int64, now time.Time) (int64, error) {
	n, err := s.queries.RequeueParkedDeliveries(ctx, now, userID)
	if err != nil {
		return 0, fmt.Errorf("requeueing parked deliveries: %w", err)
	}
	return n, nil
}

// Path returns the database file path, or "" for non-SQLite databases.
func (s *SQLDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db, s.dialect)
}

// Close closes the database connection.
func (s *SQLDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ trd.Database = (*SQLDatabase)(nil)
