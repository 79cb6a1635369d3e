package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"torrentsready/internal/model"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds the statements shared by every dialect. Placeholders are
// numbered and each first appears in ascending order, which both lib/pq
// and SQLite bind correctly.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Users

const userColumns = `id, messenger_id, username, first_name, last_name, language_code,
	is_bot, is_blocked, is_unblocking_message_sent, created_at`

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.MessengerID, &u.Username, &u.FirstName, &u.LastName, &u.LanguageCode,
		&u.IsBot, &u.IsBlocked, &u.IsUnblockingMessageSent, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

const insertUser = `INSERT INTO users (messenger_id, username, first_name, last_name, language_code, is_bot, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (messenger_id) DO NOTHING
RETURNING ` + userColumns

func (q *Queries) InsertUser(ctx context.Context, u *model.User) (*model.User, error) {
	return scanUser(q.db.QueryRowContext(ctx, insertUser,
		u.MessengerID, u.Username, u.FirstName, u.LastName, u.LanguageCode, u.IsBot, u.CreatedAt))
}

const getUserByMessengerID = `SELECT ` + userColumns + ` FROM users WHERE messenger_id = $1`

func (q *Queries) GetUserByMessengerID(ctx context.Context, messengerID int64) (*model.User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByMessengerID, messengerID))
}

const getUserByID = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

func (q *Queries) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByID, id))
}

const listUsers = `SELECT ` + userColumns + ` FROM users ORDER BY id`

func (q *Queries) ListUsers(ctx context.Context) ([]*model.User, error) {
	rows, err := q.db.QueryContext(ctx, listUsers)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanUser)
}

const setUserBlocked = `UPDATE users SET is_blocked = TRUE WHERE id = $1`

func (q *Queries) SetUserBlocked(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, setUserBlocked, id)
	return err
}

const markUnblockingMessageSent = `UPDATE users SET is_unblocking_message_sent = TRUE
WHERE id = $1 AND is_unblocking_message_sent = FALSE`

func (q *Queries) MarkUnblockingMessageSent(ctx context.Context, id int64) (int64, error) {
	return rowsAffected(q.db.ExecContext(ctx, markUnblockingMessageSent, id))
}

const unblockUser = `UPDATE users SET is_blocked = FALSE, is_unblocking_message_sent = FALSE WHERE id = $1`

func (q *Queries) UnblockUser(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, unblockUser, id)
	return err
}

// Torrents

const torrentColumns = `id, hash, title, size, magnet_link, is_task_sent, task_sent_at,
	is_processing, is_bad, created_at`

func scanTorrent(row rowScanner) (*model.Torrent, error) {
	var t model.Torrent
	err := row.Scan(&t.ID, &t.Hash, &t.Title, &t.Size, &t.MagnetLink, &t.IsTaskSent, &t.TaskSentAt,
		&t.IsProcessing, &t.IsBad, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const insertTorrent = `INSERT INTO torrents (hash, title, size, magnet_link, is_bad, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (hash) DO NOTHING
RETURNING ` + torrentColumns

func (q *Queries) InsertTorrent(ctx context.Context, t *model.Torrent) (*model.Torrent, error) {
	return scanTorrent(q.db.QueryRowContext(ctx, insertTorrent,
		t.Hash, t.Title, t.Size, t.MagnetLink, t.IsBad, t.CreatedAt))
}

const getTorrentByHash = `SELECT ` + torrentColumns + ` FROM torrents WHERE hash = $1`

func (q *Queries) GetTorrentByHash(ctx context.Context, hash string) (*model.Torrent, error) {
	return scanTorrent(q.db.QueryRowContext(ctx, getTorrentByHash, hash))
}

const getTorrentByID = `SELECT ` + torrentColumns + ` FROM torrents WHERE id = $1`

func (q *Queries) GetTorrentByID(ctx context.Context, id int64) (*model.Torrent, error) {
	return scanTorrent(q.db.QueryRowContext(ctx, getTorrentByID, id))
}

const listTorrents = `SELECT ` + torrentColumns + ` FROM torrents ORDER BY id`

func (q *Queries) ListTorrents(ctx context.Context) ([]*model.Torrent, error) {
	rows, err := q.db.QueryContext(ctx, listTorrents)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTorrent)
}

const listProcessingTorrents = `SELECT ` + torrentColumns + ` FROM torrents
WHERE is_processing = TRUE ORDER BY id`

func (q *Queries) ListProcessingTorrents(ctx context.Context) ([]*model.Torrent, error) {
	rows, err := q.db.QueryContext(ctx, listProcessingTorrents)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTorrent)
}

const markTorrentSent = `UPDATE torrents SET is_task_sent = TRUE, task_sent_at = $1, is_processing = TRUE
WHERE id = $2`

func (q *Queries) MarkTorrentSent(ctx context.Context, sentAt time.Time, id int64) error {
	_, err := q.db.ExecContext(ctx, markTorrentSent, sentAt, id)
	return err
}

const clearTorrentProcessing = `UPDATE torrents SET is_processing = FALSE, is_task_sent = FALSE, task_sent_at = NULL
WHERE id = $1`

func (q *Queries) ClearTorrentProcessing(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, clearTorrentProcessing, id)
	return err
}

// Contents

const contentColumns = `id, torrent_id, idx, path, size, save_path, ready`

func scanContent(row rowScanner) (*model.Content, error) {
	var c model.Content
	err := row.Scan(&c.ID, &c.TorrentID, &c.Index, &c.Path, &c.Size, &c.SavePath, &c.Ready)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const listContents = `SELECT ` + contentColumns + ` FROM contents WHERE torrent_id = $1 ORDER BY idx`

func (q *Queries) ListContents(ctx context.Context, torrentID int64) ([]*model.Content, error) {
	rows, err := q.db.QueryContext(ctx, listContents, torrentID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanContent)
}

const insertContent = `INSERT INTO contents (torrent_id, idx, path, size)
VALUES ($1, $2, $3, $4)
ON CONFLICT (torrent_id, idx) DO NOTHING`

func (q *Queries) InsertContent(ctx context.Context, c *model.Content) error {
	_, err := q.db.ExecContext(ctx, insertContent, c.TorrentID, c.Index, c.Path, c.Size)
	return err
}

func (q *Queries) GetContentsByIDs(ctx context.Context, ids []int64) ([]*model.Content, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	holders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		holders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `SELECT ` + contentColumns + ` FROM contents WHERE id IN (` + strings.Join(holders, ", ") + `) ORDER BY idx`
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanContent)
}

const markContentReady = `UPDATE contents SET ready = TRUE, save_path = $1 WHERE id = $2 AND ready = FALSE`

func (q *Queries) MarkContentReady(ctx context.Context, savePath string, id int64) (int64, error) {
	return rowsAffected(q.db.ExecContext(ctx, markContentReady, savePath, id))
}

const deleteTorrentContents = `DELETE FROM contents WHERE torrent_id = $1`

func (q *Queries) DeleteTorrentContents(ctx context.Context, torrentID int64) error {
	_, err := q.db.ExecContext(ctx, deleteTorrentContents, torrentID)
	return err
}

// Associations

const insertUserTorrent = `INSERT INTO user_torrents (user_id, torrent_id, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, torrent_id) DO NOTHING`

func (q *Queries) InsertUserTorrent(ctx context.Context, userID, torrentID int64, createdAt time.Time) error {
	_, err := q.db.ExecContext(ctx, insertUserTorrent, userID, torrentID, createdAt)
	return err
}

const countUserTorrents = `SELECT COUNT(*) FROM user_torrents ut
JOIN torrents t ON t.id = ut.torrent_id
WHERE ut.user_id = $1 AND t.is_bad = FALSE`

func (q *Queries) CountUserTorrents(ctx context.Context, userID int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, countUserTorrents, userID).Scan(&n)
	return n, err
}

const countTorrentUsers = `SELECT COUNT(*) FROM user_torrents WHERE torrent_id = $1`

func (q *Queries) CountTorrentUsers(ctx context.Context, torrentID int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, countTorrentUsers, torrentID).Scan(&n)
	return n, err
}

const listTorrentUserIDs = `SELECT user_id FROM user_torrents WHERE torrent_id = $1 ORDER BY user_id`

func (q *Queries) ListTorrentUserIDs(ctx context.Context, torrentID int64) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, listTorrentUserIDs, torrentID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanID)
}

const listUserTorrents = `SELECT t.id, t.title, t.size, t.is_processing,
	(SELECT COUNT(*) FROM user_contents uc JOIN contents c ON c.id = uc.content_id
	 WHERE uc.user_id = ut.user_id AND c.torrent_id = t.id),
	(SELECT COUNT(*) FROM user_contents uc JOIN contents c ON c.id = uc.content_id
	 WHERE uc.user_id = ut.user_id AND c.torrent_id = t.id AND c.ready = TRUE)
FROM user_torrents ut
JOIN torrents t ON t.id = ut.torrent_id
WHERE ut.user_id = $1 AND t.is_bad = FALSE
ORDER BY ut.created_at, t.id`

func (q *Queries) ListUserTorrents(ctx context.Context, userID int64) ([]*model.TorrentSummary, error) {
	rows, err := q.db.QueryContext(ctx, listUserTorrents, userID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row rowScanner) (*model.TorrentSummary, error) {
		var s model.TorrentSummary
		if err := row.Scan(&s.ID, &s.Title, &s.Size, &s.IsProcessing, &s.Selected, &s.Ready); err != nil {
			return nil, err
		}
		return &s, nil
	})
}

const listUserContentIDs = `SELECT uc.content_id FROM user_contents uc
JOIN contents c ON c.id = uc.content_id
WHERE uc.user_id = $1 AND c.torrent_id = $2
ORDER BY c.idx`

func (q *Queries) ListUserContentIDs(ctx context.Context, userID, torrentID int64) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, listUserContentIDs, userID, torrentID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanID)
}

const insertUserContent = `INSERT INTO user_contents (user_id, content_id)
VALUES ($1, $2)
ON CONFLICT (user_id, content_id) DO NOTHING`

func (q *Queries) InsertUserContent(ctx context.Context, userID, contentID int64) error {
	_, err := q.db.ExecContext(ctx, insertUserContent, userID, contentID)
	return err
}

const deleteUserContents = `DELETE FROM user_contents
WHERE user_id = $1 AND content_id IN (SELECT id FROM contents WHERE torrent_id = $2)`

func (q *Queries) DeleteUserContents(ctx context.Context, userID, torrentID int64) error {
	_, err := q.db.ExecContext(ctx, deleteUserContents, userID, torrentID)
	return err
}

const deleteUserContent = `DELETE FROM user_contents WHERE user_id = $1 AND content_id = $2`

func (q *Queries) DeleteUserContent(ctx context.Context, userID, contentID int64) error {
	_, err := q.db.ExecContext(ctx, deleteUserContent, userID, contentID)
	return err
}

const deleteUserTorrent = `DELETE FROM user_torrents WHERE user_id = $1 AND torrent_id = $2`

func (q *Queries) DeleteUserTorrent(ctx context.Context, userID, torrentID int64) error {
	_, err := q.db.ExecContext(ctx, deleteUserTorrent, userID, torrentID)
	return err
}

// Delivery tasks

const deliveryColumns = `id, user_id, torrent_id, content_ids, status, attempts, last_error,
	next_attempt_at, created_at, updated_at`

func scanDelivery(row rowScanner) (*model.DeliveryTask, error) {
	var (
		d   model.DeliveryTask
		ids string
	)
	err := row.Scan(&d.ID, &d.UserID, &d.TorrentID, &ids, &d.Status, &d.Attempts, &d.LastError,
		&d.NextAttemptAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ids), &d.ContentIDs); err != nil {
		return nil, fmt.Errorf("decoding content ids of delivery %d: %w", d.ID, err)
	}
	return &d, nil
}

const insertDelivery = `INSERT INTO delivery_tasks
	(user_id, torrent_id, content_ids, status, attempts, last_error, next_attempt_at, created_at, updated_at)
VALUES ($1, $2, $3, 'pending', 0, '', $4, $4, $4)
ON CONFLICT (user_id, torrent_id) DO NOTHING`

func (q *Queries) InsertDelivery(ctx context.Context, userID, torrentID int64, contentIDs []int64, now time.Time) (int64, error) {
	ids, err := json.Marshal(contentIDs)
	if err != nil {
		return 0, fmt.Errorf("encoding content ids: %w", err)
	}
	return rowsAffected(q.db.ExecContext(ctx, insertDelivery, userID, torrentID, string(ids), now))
}

const claimDelivery = `UPDATE delivery_tasks SET status = 'in_flight', updated_at = $1
WHERE id = (
	SELECT id FROM delivery_tasks
	WHERE status = 'pending' AND next_attempt_at <= $1
	ORDER BY next_attempt_at, id
	LIMIT 1
) AND status = 'pending'
RETURNING ` + deliveryColumns

func (q *Queries) ClaimDelivery(ctx context.Context, now time.Time) (*model.DeliveryTask, error) {
	return scanDelivery(q.db.QueryRowContext(ctx, claimDelivery, now))
}

const updateDelivery = `UPDATE delivery_tasks
SET status = $1, attempts = $2, last_error = $3, next_attempt_at = $4, updated_at = $5
WHERE id = $6`

func (q *Queries) UpdateDelivery(ctx context.Context, d *model.DeliveryTask) error {
	_, err := q.db.ExecContext(ctx, updateDelivery,
		string(d.Status), d.Attempts, d.LastError, d.NextAttemptAt, d.UpdatedAt, d.ID)
	return err
}

const getDelivery = `SELECT ` + deliveryColumns + ` FROM delivery_tasks WHERE id = $1`

func (q *Queries) GetDelivery(ctx context.Context, id int64) (*model.DeliveryTask, error) {
	return scanDelivery(q.db.QueryRowContext(ctx, getDelivery, id))
}

const listDeliveries = `SELECT ` + deliveryColumns + ` FROM delivery_tasks ORDER BY id`

func (q *Queries) ListDeliveries(ctx context.Context) ([]*model.DeliveryTask, error) {
	rows, err := q.db.QueryContext(ctx, listDeliveries)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDelivery)
}

// A task being sent is left alone; its release only drops what it carried.
const deleteIdleDelivery = `DELETE FROM delivery_tasks
WHERE user_id = $1 AND torrent_id = $2 AND status <> 'in_flight'`

func (q *Queries) DeleteIdleDelivery(ctx context.Context, userID, torrentID int64) error {
	_, err := q.db.ExecContext(ctx, deleteIdleDelivery, userID, torrentID)
	return err
}

const deleteDelivery = `DELETE FROM delivery_tasks WHERE user_id = $1 AND torrent_id = $2`

func (q *Queries) DeleteDelivery(ctx context.Context, userID, torrentID int64) error {
	_, err := q.db.ExecContext(ctx, deleteDelivery, userID, torrentID)
	return err
}

const resetStaleDeliveries = `UPDATE delivery_tasks SET status = 'pending', updated_at = $1
WHERE status = 'in_flight'`

func (q *Queries) ResetStaleDeliveries(ctx context.Context, now time.Time) (int64, error) {
	return rowsAffected(q.db.ExecContext(ctx, resetStaleDeliveries, now))
}

const requeueParkedDeliveries = `UPDATE delivery_tasks SET status = 'pending', next_attempt_at = $1, updated_at = $1
WHERE user_id = $2 AND status = 'parked'`

func (q *Queries) RequeueParkedDeliveries(ctx context.Context, now time.Time, userID int64) (int64, error) {
	return rowsAffected(q.db.ExecContext(ctx, requeueParkedDeliveries, now, userID))
}

// helpers

func scanID(row rowScanner) (int64, error) {
	var id int64
	err := row.Scan(&id)
	return id, err
}

func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func rowsAffected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
