package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message kind constants matching the backend's messageType field.
const (
	MessageKindText   = "TEXT"
	MessageKindImage  = "IMAGE"
	MessageKindSystem = "SYSTEM"
)

// Frame actions understood by the realtime channel.
const (
	ActionSubscribe   = "subscribe"
	ActionAddUser     = "chat.addUser"
	ActionLeaveUser   = "chat.leaveUser"
	ActionSendMessage = "chat.sendMessage"
	ActionMarkAsRead  = "chat.markAsRead"
)

// Identity is the locally authenticated participant as reported by the
// identity endpoint. ID is the stable identifier compared against message
// senders to tag which messages are mine.
type Identity struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
}

// Message is one chat message inside a room. Its identity is
// (RoomID, ID); ID is server-assigned and is the authoritative dedup key.
// Mine is computed client-side against the resolved local identity and
// never travels on the wire.
type Message struct {
	ID             int64      `json:"messageId"`
	RoomID         int64      `json:"roomId"`
	SenderID       int64      `json:"senderId"`
	SenderNickname string     `json:"senderNickname"`
	Content        string     `json:"content"`
	Kind           string     `json:"messageType"`
	Read           bool       `json:"read"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	Mine           bool       `json:"-"`
}

// Before reports whether m sorts ahead of other within a room view:
// creation timestamp ascending, ties broken by server-assigned id.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// ReadReceipt is the payload delivered on the room's read destination when
// a participant marks the room as read.
type ReadReceipt struct {
	RoomID   int64     `json:"roomId"`
	ReaderID int64     `json:"readerId"`
	ReadAt   time.Time `json:"readAt"`
}

// Frame is the JSON envelope exchanged on the websocket. Outbound frames
// carry an action plus an optional destination and payload; inbound frames
// carry the destination the payload was published on.
type Frame struct {
	ID          string          `json:"id,omitempty"`
	Action      string          `json:"action,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// MessageTopic returns the room's message destination.
func MessageTopic(roomID int64) string {
	return fmt.Sprintf("/topic/chat/%d", roomID)
}

// ReadTopic returns the room's read-receipt destination.
func ReadTopic(roomID int64) string {
	return fmt.Sprintf("/topic/chat/%d/read", roomID)
}
