package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"bookchat/internal/config"
	"bookchat/pkg/types"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(&config.RESTConfig{
		BaseURL:    server.URL,
		Timeout:    2 * time.Second,
		PageSize:   50,
		Credential: "SESSION=abc123",
	}, zaptest.NewLogger(t))
	return client
}

func respond(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func TestClient_CurrentIdentity(t *testing.T) {
	var gotCookie string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/me" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotCookie = r.Header.Get("Cookie")
		respond(w, types.Identity{ID: 7, Nickname: "lena"})
	}))

	id, err := client.CurrentIdentity(context.Background())
	if err != nil {
		t.Fatalf("CurrentIdentity() error = %v", err)
	}
	if id.ID != 7 || id.Nickname != "lena" {
		t.Errorf("identity = %+v", id)
	}
	if gotCookie != "SESSION=abc123" {
		t.Errorf("session credential not sent, got %q", gotCookie)
	}
}

func TestClient_RoomMessages(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/rooms/42/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("page") != "0" || r.URL.Query().Get("size") != "50" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		respond(w, MessagePage{
			Content: []*types.Message{
				{ID: 1, RoomID: 42, Content: "first", Kind: types.MessageKindText, CreatedAt: time.Now()},
				{ID: 2, RoomID: 42, Content: "second", Kind: types.MessageKindText, CreatedAt: time.Now()},
			},
			TotalPages:    3,
			TotalElements: 120,
			Number:        0,
		})
	}))

	page, err := client.RoomMessages(context.Background(), 42, 0, 50)
	if err != nil {
		t.Fatalf("RoomMessages() error = %v", err)
	}
	if len(page.Content) != 2 {
		t.Errorf("content length = %d", len(page.Content))
	}
	if page.TotalPages != 3 {
		t.Errorf("totalPages = %d", page.TotalPages)
	}
}

func TestClient_SendMessage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat/messages" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var req SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("request did not decode: %v", err)
		}
		if req.RoomID != 42 || req.Content != "hello" || req.Kind != types.MessageKindText {
			t.Errorf("request = %+v", req)
		}
		respond(w, types.Message{ID: 10, RoomID: 42, Content: "hello", Kind: types.MessageKindText, CreatedAt: time.Now()})
	}))

	msg, err := client.SendMessage(context.Background(), SendRequest{RoomID: 42, Content: "hello", Kind: types.MessageKindText})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if msg.ID != 10 {
		t.Errorf("message id = %d, want 10", msg.ID)
	}
}

func TestClient_SendMessage_ValidatesBeforeRequest(t *testing.T) {
	called := false
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	_, err := client.SendMessage(context.Background(), SendRequest{RoomID: 42, Content: "  ", Kind: types.MessageKindText})
	if !errors.Is(err, types.ErrEmptyContent) {
		t.Errorf("error = %v, want ErrEmptyContent", err)
	}
	if called {
		t.Error("invalid payload must not reach the endpoint")
	}
}

func TestClient_LeaveRoom(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat/rooms/42/leave" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := client.LeaveRoom(context.Background(), 42); err != nil {
		t.Errorf("LeaveRoom() error = %v", err)
	}
}

func TestClient_ErrorStatusSurfaced(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not a participant"})
	}))

	_, err := client.RoomMessages(context.Background(), 42, 0, 50)
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("error = %v, want ErrRequestFailed", err)
	}
}

func TestClient_MalformedEnvelope(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))

	_, err := client.CurrentIdentity(context.Background())
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("error = %v, want ErrInvalidResponse", err)
	}
}

func TestClient_MissingDataField(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"other": 1}`))
	}))

	_, err := client.CurrentIdentity(context.Background())
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("error = %v, want ErrInvalidResponse", err)
	}
}
