package receipt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bookchat/internal/connection"
	"bookchat/pkg/types"
)

// Channel is the realtime side the publisher signals on.
type Channel interface {
	State() connection.State
	Publish(frame *types.Frame) error
}

// View is the slice of the room view the publisher observes.
type View interface {
	Updates() <-chan struct{}
	LastID() int64
}

// Publisher signals room-level read progress whenever the visible message
// set changes. Read state is best effort: publishes are not retried, a
// failed publish is dropped silently, and there is no request/response
// fallback. Read receipts must never block message display.
type Publisher struct {
	roomID   int64
	identity *types.Identity
	channel  Channel
	view     View
	logger   *zap.Logger

	mu      sync.Mutex
	visible bool
	lastID  int64
}

// NewPublisher builds a publisher for one room. The room starts visible;
// callers toggle SetVisible when the room leaves the foreground.
func NewPublisher(roomID int64, id *types.Identity, channel Channel, view View, logger *zap.Logger) *Publisher {
	return &Publisher{
		roomID:   roomID,
		identity: id,
		channel:  channel,
		view:     view,
		logger:   logger,
		visible:  true,
	}
}

// Run consumes the view's change signal until the context ends. Each
// signal may cover several merges; the watermark dedupes repeat publishes
// for the same newest message.
func (p *Publisher) Run(ctx context.Context) {
	updates := p.view.Updates()
	for {
		select {
		case <-updates:
			p.publish()
		case <-ctx.Done():
			return
		}
	}
}

// SetVisible marks whether the room is the active, visible one. Receipts
// are only published while visible.
func (p *Publisher) SetVisible(visible bool) {
	p.mu.Lock()
	p.visible = visible
	p.mu.Unlock()

	if visible {
		p.publish()
	}
}

// publish emits one mark-as-read signal, watermarked by the newest
// message id so unchanged tails are not re-announced.
func (p *Publisher) publish() {
	p.mu.Lock()
	visible := p.visible
	p.mu.Unlock()

	if !visible {
		return
	}
	if p.channel.State() != connection.StateConnected {
		// No fallback path here: read receipts are not critical enough
		// to warrant one.
		return
	}

	lastID := p.view.LastID()
	if lastID == 0 {
		return
	}

	p.mu.Lock()
	if lastID == p.lastID {
		p.mu.Unlock()
		return
	}
	p.lastID = lastID
	p.mu.Unlock()

	payload, err := json.Marshal(map[string]interface{}{
		"roomId":            p.roomID,
		"readerId":          p.identity.ID,
		"lastReadMessageId": lastID,
		"readAt":            time.Now().UTC(),
	})
	if err != nil {
		return
	}

	if err := p.channel.Publish(&types.Frame{
		ID:      uuid.New().String(),
		Action:  types.ActionMarkAsRead,
		Payload: payload,
	}); err != nil {
		// Best effort by contract: drop the failure, keep displaying.
		p.logger.Debug("read receipt publish dropped",
			zap.Int64("room_id", p.roomID),
			zap.Error(err))
	}
}
