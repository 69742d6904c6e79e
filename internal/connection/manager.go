package connection

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bookchat/internal/config"
	"bookchat/pkg/types"
)

// Transport is the slice of a realtime session the manager drives. A
// fresh Transport is dialed per attempt and never reused.
type Transport interface {
	Publish(frame *types.Frame) error
	Frames() <-chan *types.Frame
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Dialer opens a new transport session.
type Dialer func(ctx context.Context) (Transport, error)

// Sink receives everything the channel delivers for the room. The room
// view implements it; the manager never appends to the view directly.
type Sink interface {
	Merge(msg *types.Message) bool
	ApplyReceipt(receipt *types.ReadReceipt) int
}

// Manager owns the lifecycle of one realtime session per chat room:
// connect, subscribe, announce entry, detect failure, reconnect with
// backoff, and idempotent teardown. All state transitions happen on a
// single run goroutine, so at most one session is ever Connecting or
// Connected; a connect request while one is in flight is a no-op rather
// than a second parallel attempt.
type Manager struct {
	roomID    int64
	identity  *types.Identity
	dial      Dialer
	reconnect *config.ReconnectConfig
	sink      Sink
	logger    *zap.Logger

	mu       sync.RWMutex
	state    State
	session  Transport
	lastErr  error
	attempts int
	running  bool

	connectCh chan struct{}
	states    chan State
	quit      chan struct{}
	stopOnce  sync.Once
	stopped   chan struct{}
}

// NewManager builds a manager for one room. The identity must already be
// resolved; without it no incoming message could be tagged as mine.
func NewManager(roomID int64, id *types.Identity, dial Dialer, reconnect *config.ReconnectConfig, sink Sink, logger *zap.Logger) (*Manager, error) {
	if id == nil {
		return nil, ErrIdentityRequired
	}
	return &Manager{
		roomID:    roomID,
		identity:  id,
		dial:      dial,
		reconnect: reconnect,
		sink:      sink,
		logger:    logger,
		state:     StateDisconnected,
		connectCh: make(chan struct{}, 1),
		states:    make(chan State, 16),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// Start launches the state machine and requests the first connection.
func (m *Manager) Start(ctx context.Context) error {
	select {
	case <-m.quit:
		return ErrNotStarted
	default:
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.running = true
	m.mu.Unlock()

	go m.run(ctx)
	m.Connect()
	return nil
}

// Connect requests a connection. A no-op while one is already connecting
// or connected. From GivenUp this is the user-actionable refresh: the
// attempt counter resets and the machine re-enters Connecting.
func (m *Manager) Connect() {
	select {
	case m.connectCh <- struct{}{}:
	default:
	}
}

// Stop tears the session down exactly once: announce room exit while the
// transport is still usable, release subscriptions, close the socket.
// Safe to call from every exit path.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.quit)
		m.mu.RLock()
		running := m.running
		m.mu.RUnlock()
		if !running {
			close(m.stopped)
		}
	})
	<-m.stopped
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastErr returns the most recent transport error, if any.
func (m *Manager) LastErr() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// States delivers state transitions to the view layer as a non-blocking
// status feed. Slow observers lose intermediate transitions, never the
// machine's progress.
func (m *Manager) States() <-chan State {
	return m.states
}

// Publish sends a data frame over the live session. Callers decide the
// fallback path on ErrNotConnected.
func (m *Manager) Publish(frame *types.Frame) error {
	m.mu.RLock()
	state, session := m.state, m.session
	m.mu.RUnlock()

	if state != StateConnected || session == nil {
		return ErrNotConnected
	}
	return session.Publish(frame)
}

// run is the single goroutine that owns every transition. Nil-channel
// selects keep session events out of scope while no session exists.
func (m *Manager) run(ctx context.Context) {
	defer close(m.stopped)

	var (
		frames  <-chan *types.Frame
		done    <-chan struct{}
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerCh = nil
		}
	}

	for {
		select {
		case <-m.connectCh:
			if st := m.State(); st == StateConnecting || st == StateConnected {
				continue
			}
			stopTimer()
			m.mu.Lock()
			if m.state == StateGivenUp {
				m.attempts = 0
			}
			m.mu.Unlock()
			frames, done = m.attempt(ctx)
			if frames == nil {
				timer, timerCh = m.schedule()
			}

		case <-timerCh:
			timer, timerCh = nil, nil
			frames, done = m.attempt(ctx)
			if frames == nil {
				timer, timerCh = m.schedule()
			}

		case frame, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			m.handleFrame(frame)

		case <-done:
			m.drain(frames)
			m.mu.Lock()
			err := m.session.Err()
			m.session = nil
			m.lastErr = err
			m.mu.Unlock()
			frames, done = nil, nil
			m.logger.Warn("realtime session lost",
				zap.Int64("room_id", m.roomID),
				zap.Error(err))
			m.setState(StateFailed)
			timer, timerCh = m.schedule()

		case <-m.quit:
			stopTimer()
			m.teardown()
			return

		case <-ctx.Done():
			stopTimer()
			m.teardown()
			return
		}
	}
}

// attempt performs one Connecting cycle. On success the manager
// subscribes to the room's message and read destinations, announces room
// entry, and zeroes the attempt counter.
func (m *Manager) attempt(ctx context.Context) (<-chan *types.Frame, <-chan struct{}) {
	m.setState(StateConnecting)
	m.logger.Info("connecting to realtime channel",
		zap.Int64("room_id", m.roomID),
		zap.Int("attempt", m.attemptCount()))

	session, err := m.dial(ctx)
	if err != nil {
		m.mu.Lock()
		m.lastErr = err
		m.mu.Unlock()
		m.logger.Warn("handshake failed", zap.Int64("room_id", m.roomID), zap.Error(err))
		m.setState(StateFailed)
		return nil, nil
	}

	if err := m.announce(session); err != nil {
		session.Close()
		m.mu.Lock()
		m.lastErr = err
		m.mu.Unlock()
		m.logger.Warn("channel negotiation failed", zap.Int64("room_id", m.roomID), zap.Error(err))
		m.setState(StateFailed)
		return nil, nil
	}

	m.mu.Lock()
	m.session = session
	m.attempts = 0
	m.mu.Unlock()
	m.setState(StateConnected)
	m.logger.Info("realtime channel established", zap.Int64("room_id", m.roomID))

	return session.Frames(), session.Done()
}

// announce subscribes both room destinations and signals room entry.
func (m *Manager) announce(session Transport) error {
	subs := []string{types.MessageTopic(m.roomID), types.ReadTopic(m.roomID)}
	for _, dest := range subs {
		frame := &types.Frame{
			ID:          uuid.New().String(),
			Action:      types.ActionSubscribe,
			Destination: dest,
		}
		if err := session.Publish(frame); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(map[string]interface{}{
		"roomId":         m.roomID,
		"senderId":       m.identity.ID,
		"senderNickname": m.identity.Nickname,
	})
	if err != nil {
		return err
	}
	return session.Publish(&types.Frame{
		ID:      uuid.New().String(),
		Action:  types.ActionAddUser,
		Payload: payload,
	})
}

// schedule arms the reconnect timer, or marks the machine GivenUp once
// the attempt budget is exhausted. The timer is the only thing allowed to
// start an automatic reconnect.
func (m *Manager) schedule() (*time.Timer, <-chan time.Time) {
	m.mu.Lock()
	attempt := m.attempts
	m.attempts++
	exhausted := m.attempts >= m.reconnect.MaxAttempts
	m.mu.Unlock()

	if exhausted {
		m.logger.Error("reconnect budget exhausted",
			zap.Int64("room_id", m.roomID),
			zap.Int("attempts", attempt+1))
		m.setState(StateGivenUp)
		return nil, nil
	}

	delay := BackoffDelay(m.reconnect, attempt)
	m.logger.Info("reconnect scheduled",
		zap.Int64("room_id", m.roomID),
		zap.Duration("delay", delay),
		zap.Int("attempt", attempt+1))
	timer := time.NewTimer(delay)
	return timer, timer.C
}

// drain processes frames the session delivered before it died so nothing
// already received is lost to the failure.
func (m *Manager) drain(frames <-chan *types.Frame) {
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			m.handleFrame(frame)
		default:
			return
		}
	}
}

// handleFrame routes an inbound frame by destination. Everything funnels
// through the sink so there is a single insertion path.
func (m *Manager) handleFrame(frame *types.Frame) {
	switch frame.Destination {
	case types.MessageTopic(m.roomID):
		var msg types.Message
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			m.logger.Warn("discarding malformed message payload", zap.Error(err))
			return
		}
		m.sink.Merge(&msg)

	case types.ReadTopic(m.roomID):
		var receipt types.ReadReceipt
		if err := json.Unmarshal(frame.Payload, &receipt); err != nil {
			m.logger.Warn("discarding malformed receipt payload", zap.Error(err))
			return
		}
		m.sink.ApplyReceipt(&receipt)

	default:
		m.logger.Debug("frame for unknown destination",
			zap.String("destination", frame.Destination))
	}
}

// teardown announces room exit while the transport is still usable, then
// closes it. Runs exactly once per manager lifetime.
func (m *Manager) teardown() {
	m.mu.Lock()
	session := m.session
	m.session = nil
	m.mu.Unlock()

	if session != nil {
		payload, err := json.Marshal(map[string]interface{}{
			"roomId":   m.roomID,
			"senderId": m.identity.ID,
		})
		if err == nil {
			_ = session.Publish(&types.Frame{
				ID:      uuid.New().String(),
				Action:  types.ActionLeaveUser,
				Payload: payload,
			})
		}
		_ = session.Close()
	}

	m.setState(StateDisconnected)
	m.logger.Info("realtime session released", zap.Int64("room_id", m.roomID))
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	select {
	case m.states <- state:
	default:
	}
}

func (m *Manager) attemptCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts
}
