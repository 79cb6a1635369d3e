package trd

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"torrentsready/internal/model"
)

// Profile is what the messaging front-end knows about a user.
type Profile struct {
	MessengerID  int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
	IsBot        bool
}

// SelectionView is a freshly opened selection: the torrent and the first
// page of its file list.
type SelectionView struct {
	Torrent *model.Torrent
	Page    *SelectionPage
}

// Service is the set of operations the front-ends expose to users and
// operators. Users are addressed by messenger id.
type Service struct {
	database     Database
	engine       Engine
	outbound     Outbound
	admission    *Admission
	ingestor     *Ingestor
	selection    *SelectionStore
	finalizer    *Finalizer
	metrics      Metrics
	logger       Logger
	clock        Clock
	filesPerPage int
}

func NewService(database Database, engine Engine, outbound Outbound, admission *Admission, ingestor *Ingestor, selection *SelectionStore, finalizer *Finalizer, metrics Metrics, logger Logger, clock Clock, filesPerPage int) *Service {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Service{
		database:     database,
		engine:       engine,
		outbound:     outbound,
		admission:    admission,
		ingestor:     ingestor,
		selection:    selection,
		finalizer:    finalizer,
		metrics:      metrics,
		logger:       WithComponent(logger, "service"),
		clock:        clock,
		filesPerPage: filesPerPage,
	}
}

// StartInteraction registers the user on first contact and returns them.
func (s *Service) StartInteraction(ctx context.Context, p Profile) (*model.User, error) {
	user, err := s.database.GetOrCreateUser(ctx, &model.User{
		MessengerID:  p.MessengerID,
		Username:     p.Username,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		LanguageCode: p.LanguageCode,
		IsBot:        p.IsBot,
		CreatedAt:    s.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("registering user: %w", err)
	}
	return user, nil
}

// SubmitMagnetOrFile admits and ingests a torrent, then opens an empty
// selection over its files.
func (s *Service) SubmitMagnetOrFile(ctx context.Context, messengerID int64, payload Payload) (*SelectionView, error) {
	if err := s.admission.Check(ctx, messengerID); err != nil {
		s.metrics.IngestionFinished(ingestionResult(err))
		return nil, err
	}

	torrent, contents, err := s.ingestor.Ingest(ctx, messengerID, payload)
	s.metrics.IngestionFinished(ingestionResult(err))
	if err != nil {
		return nil, err
	}

	user, err := s.user(ctx, messengerID)
	if err != nil {
		return nil, err
	}
	s.selection.Open(torrent.ID, user.ID, contents)
	page, err := s.selection.Page(torrent.ID, user.ID, 0, s.filesPerPage)
	if err != nil {
		return nil, err
	}
	return &SelectionView{Torrent: torrent, Page: page}, nil
}

// ToggleSelection flips the file with the given index and reports whether
// it is now selected.
func (s *Service) ToggleSelection(ctx context.Context, messengerID, torrentID int64, index int) (bool, error) {
	user, err := s.user(ctx, messengerID)
	if err != nil {
		return false, err
	}
	return s.selection.ToggleIndex(torrentID, user.ID, index)
}

func (s *Service) SelectAll(ctx context.Context, messengerID, torrentID int64) error {
	user, err := s.user(ctx, messengerID)
	if err != nil {
		return err
	}
	paths, err := s.selection.Paths(torrentID, user.ID)
	if err != nil {
		return err
	}
	return s.selection.SelectAll(torrentID, user.ID, paths)
}

func (s *Service) UnselectAll(ctx context.Context, messengerID, torrentID int64) error {
	user, err := s.user(ctx, messengerID)
	if err != nil {
		return err
	}
	return s.selection.UnselectAll(torrentID, user.ID)
}

// Page returns one page of the user's open selection.
func (s *Service) Page(ctx context.Context, messengerID, torrentID int64, page int) (*SelectionPage, error) {
	user, err := s.user(ctx, messengerID)
	if err != nil {
		return nil, err
	}
	return s.selection.Page(torrentID, user.ID, page, s.filesPerPage)
}

// FinalizeSelection persists the open selection and starts the download.
func (s *Service) FinalizeSelection(ctx context.Context, messengerID, torrentID int64) (*FinalizeResult, error) {
	user, err := s.user(ctx, messengerID)
	if err != nil {
		return nil, err
	}
	return s.finalizer.Finalize(ctx, torrentID, user.ID)
}

// ListActiveTorrents returns the torrents the user is associated with.
func (s *Service) ListActiveTorrents(ctx context.Context, messengerID int64) ([]*model.TorrentSummary, error) {
	user, err := s.user(ctx, messengerID)
	if err != nil {
		return nil, err
	}
	torrents, err := s.database.ListUserTorrents(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("listing torrents: %w", err)
	}
	return torrents, nil
}

// RemoveTorrent drops the user's interest in a torrent. When no other user
// remains, the engine task and its data are removed too.
func (s *Service) RemoveTorrent(ctx context.Context, messengerID, torrentID int64) (*Release, error) {
	user, err := s.user(ctx, messengerID)
	if err != nil {
		return nil, err
	}
	torrent, err := s.database.FindTorrentByID(ctx, torrentID)
	if err != nil {
		return nil, fmt.Errorf("finding torrent: %w", err)
	}
	if torrent == nil {
		return nil, fmt.Errorf("torrent %d: %w", torrentID, ErrTorrentNotFound)
	}
	userIDs, err := s.database.ListTorrentUserIDs(ctx, torrentID)
	if err != nil {
		return nil, fmt.Errorf("listing torrent users: %w", err)
	}
	if !slices.Contains(userIDs, user.ID) {
		return nil, fmt.Errorf("torrent %d not associated with user %d: %w", torrentID, user.ID, ErrTorrentNotFound)
	}

	rel, err := s.database.ReleaseUser(ctx, user.ID, torrentID)
	if err != nil {
		return nil, fmt.Errorf("releasing torrent: %w", err)
	}
	s.selection.Discard(torrentID, user.ID)

	if rel.Released {
		if err := s.engine.RemoveTorrentAndData(ctx, torrent.Hash); err != nil {
			s.logger.Warn("removing torrent from engine failed", "hash", torrent.Hash, "error", err)
		}
	}
	s.logger.Info("torrent removed", "torrent_id", torrentID, "user_id", user.ID,
		"remaining", rel.Remaining, "released", rel.Released)
	return rel, nil
}

// AcknowledgeConsent clears the user's block and re-queues their parked
// deliveries. It returns the number of deliveries re-queued.
func (s *Service) AcknowledgeConsent(ctx context.Context, messengerID int64) (int64, error) {
	user, err := s.user(ctx, messengerID)
	if err != nil {
		return 0, err
	}
	if rec, ok := s.outbound.(ConsentRecorder); ok {
		if err := rec.RecordConsent(ctx, messengerID); err != nil {
			return 0, fmt.Errorf("recording consent: %w", err)
		}
	}
	if err := s.database.UnblockUser(ctx, user.ID); err != nil {
		return 0, fmt.Errorf("unblocking user: %w", err)
	}
	n, err := s.database.RequeueParkedDeliveries(ctx, user.ID, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("requeueing deliveries: %w", err)
	}
	s.logger.Info("consent acknowledged", "user_id", user.ID, "requeued", n)
	return n, nil
}

// ListUsers returns every registered user.
func (s *Service) ListUsers(ctx context.Context) ([]*model.User, error) {
	return s.database.ListUsers(ctx)
}

// ListDeliveries returns every queued or settled delivery task.
func (s *Service) ListDeliveries(ctx context.Context) ([]*model.DeliveryTask, error) {
	return s.database.ListDeliveries(ctx)
}

// RetryDelivery returns a failed, abandoned or parked task to the queue
// with a fresh attempt budget.
func (s *Service) RetryDelivery(ctx context.Context, taskID int64) error {
	task, err := s.database.FindDelivery(ctx, taskID)
	if err != nil {
		return fmt.Errorf("finding delivery: %w", err)
	}
	if task == nil {
		return fmt.Errorf("delivery %d: %w", taskID, ErrDeliveryNotFound)
	}
	if task.Status == model.DeliveryPending || task.Status == model.DeliveryInFlight {
		return nil
	}
	now := s.clock.Now()
	task.Status = model.DeliveryPending
	task.Attempts = 0
	task.NextAttemptAt = now
	task.UpdatedAt = now
	if err := s.database.UpdateDelivery(ctx, task); err != nil {
		return fmt.Errorf("requeueing delivery: %w", err)
	}
	return nil
}

func (s *Service) user(ctx context.Context, messengerID int64) (*model.User, error) {
	user, err := s.database.FindUserByMessengerID(ctx, messengerID)
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("messenger id %d: %w", messengerID, ErrUserNotFound)
	}
	return user, nil
}

// ingestionResult is the metrics label for a submission's result.
func ingestionResult(err error) string {
	if err == nil {
		return "ok"
	}
	if pe, ok := AsPolicyError(err); ok {
		return pe.Kind.String()
	}
	var he *HashExtractionError
	switch {
	case errors.As(err, &he):
		return "invalid"
	case errors.Is(err, ErrMetadataUnavailable):
		return "no_metadata"
	default:
		return "error"
	}
}
