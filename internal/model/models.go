package model

import (
	"database/sql"
	"time"
)

// User is a person interacting through the messaging front-end.
type User struct {
	ID                      int64
	MessengerID             int64 // External messenger identity, unique
	Username                string
	FirstName               string
	LastName                string
	LanguageCode            string
	IsBot                   bool
	IsBlocked               bool // Delivery refused until consent is acknowledged
	IsUnblockingMessageSent bool // Consent prompt already sent for this block episode
	CreatedAt               time.Time
}

// Torrent is a content-addressed torrent shared by every user referencing it.
type Torrent struct {
	ID           int64
	Hash         string // Lower-case info-hash
	Title        string
	Size         int64
	MagnetLink   string
	IsTaskSent   bool
	TaskSentAt   sql.NullTime
	IsProcessing bool // At least one user still wants it
	IsBad        bool
	CreatedAt    time.Time
}

// Content is one file inside a torrent. Index is the engine's file index.
type Content struct {
	ID        int64
	TorrentID int64
	Index     int
	Path      string
	Size      int64
	SavePath  sql.NullString
	Ready     bool
}

// DeliveryStatus is the lifecycle state of a DeliveryTask.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryInFlight  DeliveryStatus = "in_flight"
	DeliveryParked    DeliveryStatus = "parked"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryAbandoned DeliveryStatus = "abandoned"
)

// DeliveryTask is a queued delivery of a user's completed selection.
// At most one exists per (user, torrent); its presence marks the
// selection as dispatched.
type DeliveryTask struct {
	ID            int64
	UserID        int64
	TorrentID     int64
	ContentIDs    []int64
	Status        DeliveryStatus
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TorrentSummary is a torrent as listed to one of its users.
type TorrentSummary struct {
	ID           int64
	Title        string
	Size         int64
	IsProcessing bool
	Selected     int // Contents selected by the user
	Ready        int // Of those, contents already downloaded
}
