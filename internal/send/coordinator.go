package send

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bookchat/internal/connection"
	"bookchat/internal/rest"
	"bookchat/pkg/types"
)

// Path identifies which route carried a message to the backend.
type Path int

const (
	// PathRealtime published on the live channel. The message is NOT
	// appended locally: the channel echoes the accepted message back
	// through the same path every participant receives it on, which keeps
	// one source of truth and avoids double entry.
	PathRealtime Path = iota
	// PathFallback used the request/response endpoint. No echo arrives,
	// so the returned message is appended through the deduplicator.
	PathFallback
)

func (p Path) String() string {
	if p == PathRealtime {
		return "realtime"
	}
	return "fallback"
}

// Channel is the realtime side of the decision.
type Channel interface {
	State() connection.State
	Publish(frame *types.Frame) error
}

// Fallback is the request/response side.
type Fallback interface {
	SendMessage(ctx context.Context, req rest.SendRequest) (*types.Message, error)
}

// Sink is the single authoritative insertion point, shared with the
// connection manager's delivery path.
type Sink interface {
	Merge(msg *types.Message) bool
}

// Outcome reports how a send was carried and, for the fallback path, the
// message the backend created.
type Outcome struct {
	Path    Path
	Message *types.Message
}

// Coordinator routes one user-authored message at a time to whichever
// path is available. The asymmetry between the two paths is deliberate
// and load-bearing; see the Path constants.
type Coordinator struct {
	roomID   int64
	identity *types.Identity
	channel  Channel
	fallback Fallback
	sink     Sink
	logger   *zap.Logger

	mu       sync.Mutex
	inFlight bool
}

// NewCoordinator builds the coordinator for one room.
func NewCoordinator(roomID int64, id *types.Identity, channel Channel, fallback Fallback, sink Sink, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		roomID:   roomID,
		identity: id,
		channel:  channel,
		fallback: fallback,
		sink:     sink,
		logger:   logger,
	}
}

// Send delivers one message. Preconditions: trimmed non-empty body, and
// no other send in flight for this coordinator. On fallback failure the
// caller still owns the unsent text and should restore it for retry; the
// coordinator never retries on its own, since a blind retry is how
// duplicate sends happen.
func (c *Coordinator) Send(ctx context.Context, content string) (*Outcome, error) {
	if err := types.ValidateOutgoing(c.roomID, content, types.MessageKindText); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return nil, ErrSendInFlight
	}
	c.inFlight = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	if c.channel.State() == connection.StateConnected {
		err := c.publishRealtime(content)
		if err == nil {
			c.logger.Debug("message published on realtime channel",
				zap.Int64("room_id", c.roomID))
			return &Outcome{Path: PathRealtime}, nil
		}
		if !errors.Is(err, connection.ErrNotConnected) {
			return nil, fmt.Errorf("realtime publish failed: %w", err)
		}
		// Lost the connection between the state check and the publish:
		// fall through to the request/response path.
	}

	msg, err := c.fallback.SendMessage(ctx, rest.SendRequest{
		RoomID:  c.roomID,
		Content: content,
		Kind:    types.MessageKindText,
	})
	if err != nil {
		return nil, err
	}

	c.sink.Merge(msg)
	c.logger.Debug("message sent via fallback endpoint",
		zap.Int64("room_id", c.roomID),
		zap.Int64("message_id", msg.ID))
	return &Outcome{Path: PathFallback, Message: msg}, nil
}

func (c *Coordinator) publishRealtime(content string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"roomId":         c.roomID,
		"senderId":       c.identity.ID,
		"senderNickname": c.identity.Nickname,
		"content":        content,
		"messageType":    types.MessageKindText,
	})
	if err != nil {
		return err
	}
	return c.channel.Publish(&types.Frame{
		ID:      uuid.New().String(),
		Action:  types.ActionSendMessage,
		Payload: payload,
	})
}
