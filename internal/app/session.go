package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"bookchat/internal/config"
	"bookchat/internal/connection"
	"bookchat/internal/identity"
	"bookchat/internal/receipt"
	"bookchat/internal/rest"
	"bookchat/internal/room"
	"bookchat/internal/send"
	"bookchat/internal/transport"
	"bookchat/pkg/types"
)

// RoomSession wires every component for one open chat room: identity →
// history → connection → view, in that order. The session owns the room
// view and the connection manager; both live and die with it, and nothing
// is shared across rooms.
type RoomSession struct {
	cfg    *config.Config
	roomID int64
	logger *zap.Logger

	restClient  *rest.Client
	resolver    *identity.Resolver
	view        *room.View
	manager     *connection.Manager
	coordinator *send.Coordinator
	publisher   *receipt.Publisher

	cancel context.CancelFunc

	mu         sync.Mutex
	entered    bool
	left       bool
	historyErr error
	nextPage   int
	totalPages int

	leaveOnce sync.Once
}

// NewRoomSession builds the session's collaborators without touching the
// network. Enter performs the externally visible work.
func NewRoomSession(cfg *config.Config, roomID int64, logger *zap.Logger) (*RoomSession, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if roomID <= 0 {
		return nil, types.ErrInvalidRoomID
	}

	restClient := rest.NewClient(cfg.REST, logger)
	return &RoomSession{
		cfg:        cfg,
		roomID:     roomID,
		logger:     logger,
		restClient: restClient,
		resolver:   identity.NewResolver(restClient, logger),
	}, nil
}

// Enter opens the room. Identity resolution is the gate: without it no
// message can be attributed, so the realtime session must not start. A
// history-load failure does not block the realtime connection; it is kept
// as a room-level error the caller can retry.
func (s *RoomSession) Enter(ctx context.Context) error {
	s.mu.Lock()
	if s.entered {
		s.mu.Unlock()
		return ErrAlreadyEntered
	}
	s.entered = true
	s.mu.Unlock()

	id, err := s.resolver.Resolve(ctx)
	if err != nil {
		s.mu.Lock()
		s.entered = false
		s.mu.Unlock()
		return err
	}

	s.view = room.NewView(s.roomID, id.ID, s.logger)

	dial := func(dialCtx context.Context) (connection.Transport, error) {
		return transport.Dial(dialCtx, s.cfg.Realtime, s.cfg.REST.Credential, s.logger)
	}
	manager, err := connection.NewManager(s.roomID, id, dial, s.cfg.Reconnect, s.view, s.logger)
	if err != nil {
		return err
	}
	s.manager = manager
	s.coordinator = send.NewCoordinator(s.roomID, id, manager, s.restClient, s.view, s.logger)
	s.publisher = receipt.NewPublisher(s.roomID, id, manager, s.view, s.logger)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if err := s.manager.Start(runCtx); err != nil {
		cancel()
		return err
	}
	go s.publisher.Run(runCtx)

	s.loadHistory(ctx)

	s.logger.Info("room entered", zap.Int64("room_id", s.roomID))
	return nil
}

// loadHistory fetches the most recent page and merges it once. On failure
// the error is held for RetryHistory; the live stream keeps flowing
// either way, protected by the same dedup.
func (s *RoomSession) loadHistory(ctx context.Context) {
	page, err := s.restClient.RoomMessages(ctx, s.roomID, 0, s.cfg.REST.PageSize)
	if err != nil {
		s.mu.Lock()
		s.historyErr = err
		s.mu.Unlock()
		s.logger.Warn("history load failed",
			zap.Int64("room_id", s.roomID), zap.Error(err))
		return
	}

	if _, err := s.view.MergeHistory(page.Content); err != nil {
		s.mu.Lock()
		s.historyErr = err
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.historyErr = nil
	s.nextPage = 1
	s.totalPages = page.TotalPages
	s.mu.Unlock()
}

// HistoryErr returns the pending history-load error, nil when the page
// merged cleanly.
func (s *RoomSession) HistoryErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyErr
}

// RetryHistory re-runs the initial history load after a failure.
func (s *RoomSession) RetryHistory(ctx context.Context) error {
	s.mu.Lock()
	pending := s.historyErr
	s.mu.Unlock()
	if pending == nil {
		return nil
	}

	page, err := s.restClient.RoomMessages(ctx, s.roomID, 0, s.cfg.REST.PageSize)
	if err != nil {
		s.mu.Lock()
		s.historyErr = err
		s.mu.Unlock()
		return err
	}

	s.view.MergeOlder(page.Content)
	s.mu.Lock()
	s.historyErr = nil
	s.nextPage = 1
	s.totalPages = page.TotalPages
	s.mu.Unlock()
	return nil
}

// LoadOlder pulls the next older history page on demand, merged through
// the same dedup as everything else.
func (s *RoomSession) LoadOlder(ctx context.Context) (int, error) {
	s.mu.Lock()
	pageNum, total := s.nextPage, s.totalPages
	s.mu.Unlock()

	if total > 0 && pageNum >= total {
		return 0, nil
	}

	page, err := s.restClient.RoomMessages(ctx, s.roomID, pageNum, s.cfg.REST.PageSize)
	if err != nil {
		return 0, err
	}

	inserted := s.view.MergeOlder(page.Content)
	s.mu.Lock()
	s.nextPage = pageNum + 1
	s.totalPages = page.TotalPages
	s.mu.Unlock()
	return inserted, nil
}

// Send routes one message through the coordinator.
func (s *RoomSession) Send(ctx context.Context, content string) (*send.Outcome, error) {
	s.mu.Lock()
	left := s.left
	s.mu.Unlock()
	if left || s.coordinator == nil {
		return nil, ErrNotEntered
	}
	return s.coordinator.Send(ctx, content)
}

// Messages returns the current ordered snapshot.
func (s *RoomSession) Messages() []types.Message {
	if s.view == nil {
		return nil
	}
	return s.view.Messages()
}

// Updates registers a coalesced change subscription on the view. Callers
// keep the returned channel for the lifetime of their loop.
func (s *RoomSession) Updates() <-chan struct{} {
	if s.view == nil {
		return nil
	}
	return s.view.Updates()
}

// ConnectionStates exposes the manager's status feed for a non-blocking
// indicator in the view layer.
func (s *RoomSession) ConnectionStates() <-chan connection.State {
	if s.manager == nil {
		return nil
	}
	return s.manager.States()
}

// ConnectionState returns the current lifecycle state.
func (s *RoomSession) ConnectionState() connection.State {
	if s.manager == nil {
		return connection.StateDisconnected
	}
	return s.manager.State()
}

// Reconnect asks the state machine for a user-triggered attempt. It never
// bypasses the machine's single-session guarantee.
func (s *RoomSession) Reconnect() {
	if s.manager != nil {
		s.manager.Connect()
	}
}

// SetVisible toggles read-receipt publishing with room visibility.
func (s *RoomSession) SetVisible(visible bool) {
	if s.publisher != nil {
		s.publisher.SetVisible(visible)
	}
}

// Leave tears the room down exactly once, on every exit path: channel
// goodbye and socket close first, then the REST leave notice, then the
// in-memory view is discarded whole.
func (s *RoomSession) Leave(ctx context.Context) error {
	var restErr error
	s.leaveOnce.Do(func() {
		s.mu.Lock()
		s.left = true
		s.mu.Unlock()

		if s.manager != nil {
			s.manager.Stop()
		}
		if s.cancel != nil {
			s.cancel()
		}
		if err := s.restClient.LeaveRoom(ctx, s.roomID); err != nil {
			s.logger.Warn("leave notice failed",
				zap.Int64("room_id", s.roomID), zap.Error(err))
			restErr = err
		}
		if s.view != nil {
			s.view.Close()
		}
		s.logger.Info("room left", zap.Int64("room_id", s.roomID))
	})
	return restErr
}
