package fixtures

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bookchat/internal/config"
	"bookchat/pkg/types"
)

// Backend is an in-process stand-in for the marketplace chat backend: the
// REST collaborators plus the realtime pub/sub channel, with just enough
// behavior to exercise the client against the contracts it relies on.
type Backend struct {
	t        *testing.T
	Server   *httptest.Server
	Identity types.Identity

	upgrader websocket.Upgrader

	mu           sync.Mutex
	history      []*types.Message
	nextID       int64
	historyFail  bool
	rejectWS     bool
	suppressEcho bool
	clients      []*backendClient
	receipts     []json.RawMessage
	leaves       int
}

type backendClient struct {
	conn *websocket.Conn

	mu     sync.Mutex
	topics map[string]bool
}

func (c *backendClient) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[topic]
}

func (c *backendClient) write(frame *types.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(frame)
}

// NewBackend starts the fake backend. history seeds the most recent page
// for every room; ids below 1000 are reserved for seeded and pushed
// messages, send-created ids start at 1000.
func NewBackend(t *testing.T, identity types.Identity, history []*types.Message) *Backend {
	t.Helper()

	b := &Backend{
		t:        t,
		Identity: identity,
		history:  history,
		nextID:   1000,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/me", b.handleIdentity)
	mux.HandleFunc("GET /api/chat/rooms/{roomID}/messages", b.handleHistory)
	mux.HandleFunc("POST /api/chat/messages", b.handleSend)
	mux.HandleFunc("POST /api/chat/rooms/{roomID}/leave", b.handleLeave)
	mux.HandleFunc("/ws", b.handleWS)

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Server.Close)
	return b
}

// ClientConfig returns a client configuration pointed at this backend,
// tuned for fast test reconnects.
func (b *Backend) ClientConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.REST.BaseURL = b.Server.URL
	cfg.REST.Credential = "SESSION=test"
	cfg.Realtime.URL = strings.Replace(b.Server.URL, "http", "ws", 1) + "/ws"
	cfg.Realtime.HandshakeTimeout = 2 * time.Second
	cfg.Realtime.HeartbeatInterval = 50 * time.Millisecond
	cfg.Realtime.HeartbeatTimeout = 250 * time.Millisecond
	cfg.Realtime.WriteTimeout = time.Second
	cfg.Realtime.BufferSize = 32
	cfg.Reconnect.BaseDelay = 5 * time.Millisecond
	cfg.Reconnect.MaxDelay = 20 * time.Millisecond
	cfg.Reconnect.MaxAttempts = 5
	return cfg
}

func (b *Backend) handleIdentity(w http.ResponseWriter, r *http.Request) {
	respond(w, b.Identity)
}

func (b *Backend) handleHistory(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	fail := b.historyFail
	content := make([]*types.Message, len(b.history))
	copy(content, b.history)
	b.mu.Unlock()

	if fail {
		http.Error(w, `{"message":"history unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	respond(w, map[string]interface{}{
		"content":       content,
		"totalPages":    1,
		"totalElements": len(content),
		"number":        0,
		"last":          true,
	})
}

func (b *Backend) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID  int64  `json:"roomId"`
		Content string `json:"content"`
		Kind    string `json:"messageType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"message":"bad request"}`, http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.mu.Unlock()

	respond(w, &types.Message{
		ID:             id,
		RoomID:         req.RoomID,
		SenderID:       b.Identity.ID,
		SenderNickname: b.Identity.Nickname,
		Content:        req.Content,
		Kind:           req.Kind,
		CreatedAt:      time.Now().UTC(),
	})
}

func (b *Backend) handleLeave(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.leaves++
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleWS(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	reject := b.rejectWS
	b.mu.Unlock()
	if reject {
		http.Error(w, "realtime unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &backendClient{conn: conn, topics: make(map[string]bool)}
	b.mu.Lock()
	b.clients = append(b.clients, client)
	b.mu.Unlock()

	go b.serve(client)
}

// serve handles one connected client's frames with pub/sub semantics: a
// published message is broadcast to every subscriber of the room topic,
// the sender included, which is exactly the echo the client leans on.
func (b *Backend) serve(client *backendClient) {
	for {
		var frame types.Frame
		if err := client.conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Action {
		case types.ActionSubscribe:
			client.mu.Lock()
			client.topics[frame.Destination] = true
			client.mu.Unlock()

		case types.ActionSendMessage:
			var payload struct {
				RoomID         int64  `json:"roomId"`
				SenderID       int64  `json:"senderId"`
				SenderNickname string `json:"senderNickname"`
				Content        string `json:"content"`
				Kind           string `json:"messageType"`
			}
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				continue
			}

			b.mu.Lock()
			id := b.nextID
			b.nextID++
			suppress := b.suppressEcho
			b.mu.Unlock()

			if suppress {
				continue
			}
			b.Broadcast(&types.Message{
				ID:             id,
				RoomID:         payload.RoomID,
				SenderID:       payload.SenderID,
				SenderNickname: payload.SenderNickname,
				Content:        payload.Content,
				Kind:           payload.Kind,
				CreatedAt:      time.Now().UTC(),
			})

		case types.ActionMarkAsRead:
			b.mu.Lock()
			b.receipts = append(b.receipts, frame.Payload)
			b.mu.Unlock()

		case types.ActionAddUser, types.ActionLeaveUser:
			// Join/leave notices are observed, not rebroadcast; the
			// scenarios assert on message flow.
		}
	}
}

// Broadcast delivers a message to every subscriber of its room topic.
func (b *Backend) Broadcast(msg *types.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.t.Fatalf("broadcast marshal failed: %v", err)
	}
	frame := &types.Frame{
		Destination: types.MessageTopic(msg.RoomID),
		Payload:     data,
	}

	b.mu.Lock()
	clients := make([]*backendClient, len(b.clients))
	copy(clients, b.clients)
	b.mu.Unlock()

	for _, client := range clients {
		if client.subscribed(frame.Destination) {
			_ = client.write(frame)
		}
	}
}

// BroadcastReceipt delivers a read receipt to room subscribers.
func (b *Backend) BroadcastReceipt(receipt *types.ReadReceipt) {
	data, err := json.Marshal(receipt)
	if err != nil {
		b.t.Fatalf("receipt marshal failed: %v", err)
	}
	frame := &types.Frame{
		Destination: types.ReadTopic(receipt.RoomID),
		Payload:     data,
	}

	b.mu.Lock()
	clients := make([]*backendClient, len(b.clients))
	copy(clients, b.clients)
	b.mu.Unlock()

	for _, client := range clients {
		if client.subscribed(frame.Destination) {
			_ = client.write(frame)
		}
	}
}

// DropConnections forcibly closes every live websocket, simulating a
// transport loss mid-session.
func (b *Backend) DropConnections() {
	b.mu.Lock()
	clients := b.clients
	b.clients = nil
	b.mu.Unlock()

	for _, client := range clients {
		client.conn.Close()
	}
}

// SetHistoryFail toggles the history endpoint between failing and serving.
func (b *Backend) SetHistoryFail(fail bool) {
	b.mu.Lock()
	b.historyFail = fail
	b.mu.Unlock()
}

// SetRejectWS toggles whether websocket upgrades are refused.
func (b *Backend) SetRejectWS(reject bool) {
	b.mu.Lock()
	b.rejectWS = reject
	b.mu.Unlock()
}

// SetSuppressEcho stops the channel from echoing published messages back,
// for asserting that the client never self-appends on the realtime path.
func (b *Backend) SetSuppressEcho(suppress bool) {
	b.mu.Lock()
	b.suppressEcho = suppress
	b.mu.Unlock()
}

// ConnectionCount reports how many websocket sessions were ever accepted.
func (b *Backend) ConnectionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// ReceiptCount reports how many mark-as-read signals arrived.
func (b *Backend) ReceiptCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.receipts)
}

// LeaveCount reports how many REST leave notices arrived.
func (b *Backend) LeaveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.leaves
}

func respond(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}
