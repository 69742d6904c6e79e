package room

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"bookchat/pkg/types"
)

// View is the ordered, deduplicated message sequence for one open room.
// It is created on room entry and discarded on room exit; a fresh entry
// rebuilds it from scratch with no dependency on prior state. All mutation
// goes through Merge/MergeHistory/ApplyReceipt so there is exactly one
// authoritative insertion path regardless of where a message came from.
type View struct {
	roomID  int64
	localID int64
	logger  *zap.Logger

	mu            sync.RWMutex
	messages      []*types.Message
	seen          map[int64]struct{}
	historyMerged bool
	closed        bool

	// Each subscriber holds a coalesced change signal with a buffer of
	// one: a pending signal already covers any further changes.
	subMu       sync.Mutex
	subscribers []chan struct{}
}

// NewView creates an empty view for a room. localID is the resolved local
// identity used to tag which messages are mine.
func NewView(roomID, localID int64, logger *zap.Logger) *View {
	return &View{
		roomID:  roomID,
		localID: localID,
		logger:  logger,
		seen:    make(map[int64]struct{}),
	}
}

// RoomID returns the room this view belongs to.
func (v *View) RoomID() int64 {
	return v.roomID
}

// Merge inserts a message if no message with the same id is present.
// Duplicate deliveries are no-ops, so the call is idempotent across
// delivery paths. Returns true when the message was inserted.
func (v *View) Merge(msg *types.Message) bool {
	if msg == nil {
		return false
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return false
	}
	inserted := v.insertLocked(msg)
	v.mu.Unlock()

	if inserted {
		v.notify()
	}
	return inserted
}

// MergeHistory merges the historical page into the view exactly once per
// room entry. It deduplicates against anything already present, which
// covers the race where a live message arrives before history finishes
// loading. Returns the number of messages inserted.
func (v *View) MergeHistory(page []*types.Message) (int, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return 0, ErrViewClosed
	}
	if v.historyMerged {
		v.mu.Unlock()
		return 0, ErrHistoryAlreadyMerged
	}
	v.historyMerged = true

	inserted := 0
	for _, msg := range page {
		if v.insertLocked(msg) {
			inserted++
		}
	}
	v.mu.Unlock()

	if inserted > 0 {
		v.notify()
	}
	v.logger.Debug("historical page merged",
		zap.Int64("room_id", v.roomID),
		zap.Int("page_size", len(page)),
		zap.Int("inserted", inserted))
	return inserted, nil
}

// MergeOlder merges an additional history page loaded on demand. Unlike
// MergeHistory it may run any number of times.
func (v *View) MergeOlder(page []*types.Message) int {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return 0
	}
	inserted := 0
	for _, msg := range page {
		if v.insertLocked(msg) {
			inserted++
		}
	}
	v.mu.Unlock()

	if inserted > 0 {
		v.notify()
	}
	return inserted
}

// insertLocked performs the dedup check and ordered insertion. Ordering is
// creation timestamp ascending with ties broken by id, so the sequence is
// total and independent of delivery order.
func (v *View) insertLocked(msg *types.Message) bool {
	if _, dup := v.seen[msg.ID]; dup {
		return false
	}

	copied := *msg
	copied.Mine = copied.SenderID == v.localID

	idx := sort.Search(len(v.messages), func(i int) bool {
		return copied.Before(v.messages[i])
	})
	v.messages = append(v.messages, nil)
	copy(v.messages[idx+1:], v.messages[idx:])
	v.messages[idx] = &copied

	v.seen[msg.ID] = struct{}{}
	return true
}

// ApplyReceipt marks the reader's peer messages as read. Only the
// unread-to-read transition mutates a message; everything else about it is
// immutable once merged. Returns the number of messages transitioned.
func (v *View) ApplyReceipt(receipt *types.ReadReceipt) int {
	if receipt == nil || receipt.RoomID != v.roomID {
		return 0
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return 0
	}
	changed := 0
	for _, msg := range v.messages {
		if msg.SenderID == receipt.ReaderID || msg.Read {
			continue
		}
		readAt := receipt.ReadAt
		msg.Read = true
		msg.ReadAt = &readAt
		changed++
	}
	v.mu.Unlock()

	if changed > 0 {
		v.notify()
	}
	return changed
}

// Messages returns an ordered snapshot of the view. The returned slice and
// its elements are copies, safe to hold across further merges.
func (v *View) Messages() []types.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()

	snapshot := make([]types.Message, len(v.messages))
	for i, msg := range v.messages {
		snapshot[i] = *msg
	}
	return snapshot
}

// Len returns the number of distinct messages in the view.
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.messages)
}

// LastID returns the id of the newest message, or zero when empty.
func (v *View) LastID() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.messages) == 0 {
		return 0
	}
	return v.messages[len(v.messages)-1].ID
}

// Updates registers and returns an independent coalesced change signal.
// One receive may cover many changes; observers should snapshot via
// Messages after each signal. Callers keep the returned channel for the
// lifetime of their loop rather than calling Updates repeatedly.
func (v *View) Updates() <-chan struct{} {
	ch := make(chan struct{}, 1)
	v.subMu.Lock()
	v.subscribers = append(v.subscribers, ch)
	v.subMu.Unlock()
	return ch
}

// Close discards the view. Late events from a torn-down session hit the
// closed check in Merge and cannot mutate a view that no longer exists.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
}

func (v *View) notify() {
	v.subMu.Lock()
	defer v.subMu.Unlock()
	for _, ch := range v.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
