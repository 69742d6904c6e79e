package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bookchat/internal/config"
	"bookchat/pkg/types"
)

// Session is one realtime websocket attempt. Writes are serialized through
// a single writer goroutine; reads are pushed onto the Frames channel by a
// single reader goroutine. When either loop fails the session records the
// cause, closes Done and stops delivering frames. A Session is never
// reused across reconnects; the connection manager dials a fresh one.
type Session struct {
	id      string
	conn    *websocket.Conn
	cfg     *config.RealtimeConfig
	logger  *zap.Logger
	writeCh chan []byte
	frames  chan *types.Frame

	ctx       context.Context
	cancel    context.CancelFunc
	closing   chan struct{}
	flushed   chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Dial opens a websocket to the realtime endpoint. The caller's session
// credential travels in the handshake headers so the backend can associate
// the connection with the authenticated participant.
func Dial(ctx context.Context, cfg *config.RealtimeConfig, credential string, logger *zap.Logger) (*Session, error) {
	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}

	header := http.Header{}
	if credential != "" {
		header.Set("Cookie", credential)
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      uuid.New().String(),
		conn:    conn,
		cfg:     cfg,
		logger:  logger,
		writeCh: make(chan []byte, cfg.BufferSize),
		frames:  make(chan *types.Frame, cfg.BufferSize),
		ctx:     sessionCtx,
		cancel:  cancel,
		closing: make(chan struct{}),
		flushed: make(chan struct{}),
	}

	go s.readLoop()
	go s.writeLoop()

	logger.Debug("realtime session opened",
		zap.String("session_id", s.id),
		zap.String("url", cfg.URL))
	return s, nil
}

// ID returns the client-side session identifier used to correlate log
// lines across one connection's lifetime.
func (s *Session) ID() string {
	return s.id
}

// readLoop owns all reads. A pong within the heartbeat timeout extends the
// read deadline; a missed pong expires the deadline and the read error is
// treated the same as a transport close.
func (s *Session) readLoop() {
	defer s.shutdown(nil)

	s.conn.SetReadLimit(1024 * 64)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.shutdown(err)
			return
		}

		var frame types.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("discarding malformed frame", zap.Error(err))
			continue
		}

		select {
		case s.frames <- &frame:
		case <-s.ctx.Done():
			return
		}
	}
}

// writeLoop is the single writer. It serializes queued frames and the
// heartbeat pings on one goroutine so the websocket never sees concurrent
// writes.
func (s *Session) writeLoop() {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-s.writeCh:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.shutdown(err)
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.shutdown(err)
				return
			}

		case <-s.closing:
			s.flushQueued()
			close(s.flushed)
			return

		case <-s.ctx.Done():
			return
		}
	}
}

// flushQueued writes whatever is still buffered so frames queued just
// before a deliberate close, the room-exit goodbye included, reach the
// wire before the socket comes down.
func (s *Session) flushQueued() {
	for {
		select {
		case data := <-s.writeCh:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Publish queues a frame for the writer goroutine.
func (s *Session) Publish(frame *types.Frame) error {
	select {
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	select {
	case s.writeCh <- data:
		return nil
	case <-time.After(s.cfg.WriteTimeout):
		return ErrWriteTimeout
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

// Frames returns the inbound frame stream. It stops delivering once the
// session is done; drain Done to learn why.
func (s *Session) Frames() <-chan *types.Frame {
	return s.frames
}

// Done is closed when the session has terminally failed or been closed.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Err reports why the session ended, nil for a deliberate close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the session down. Idempotent: every exit path may call it.
// The writer goroutine drains its queue first, then the close frame goes
// out as a control write, which is the only write allowed to originate
// outside the writer goroutine.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		select {
		case <-s.flushed:
		case <-s.ctx.Done():
		case <-time.After(s.cfg.WriteTimeout):
		}
		// Cancel before the close frame goes out so the peer's half of
		// the close handshake is never recorded as a failure.
		s.cancel()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
	return nil
}

// shutdown records the first terminal error and releases the session. An
// error observed after a deliberate Close is the close itself and is not
// recorded.
func (s *Session) shutdown(err error) {
	if err != nil {
		select {
		case <-s.ctx.Done():
		default:
			s.mu.Lock()
			if s.err == nil {
				s.err = err
			}
			s.mu.Unlock()
		}
	}
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close()
	})
}
