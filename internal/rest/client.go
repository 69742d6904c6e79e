package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"bookchat/internal/config"
	"bookchat/pkg/types"
)

// Client talks to the request/response collaborators: the identity
// endpoint, the paginated history endpoint, the fallback send endpoint and
// the leave-room endpoint. It is safe for concurrent use.
type Client struct {
	baseURL    string
	credential string
	httpClient *http.Client
	logger     *zap.Logger
}

// MessagePage is one page of room history in the backend's pagination
// envelope.
type MessagePage struct {
	Content       []*types.Message `json:"content"`
	TotalPages    int              `json:"totalPages"`
	TotalElements int              `json:"totalElements"`
	Number        int              `json:"number"`
	Last          bool             `json:"last"`
}

// envelope is the {"data": ...} wrapper every endpoint responds with.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

type apiError struct {
	Message string `json:"message"`
}

// SendRequest is the fallback send body.
type SendRequest struct {
	RoomID  int64  `json:"roomId"`
	Content string `json:"content"`
	Kind    string `json:"messageType"`
}

// NewClient creates a REST client from the shared configuration.
func NewClient(cfg *config.RESTConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		credential: cfg.Credential,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// CurrentIdentity fetches the authenticated participant's identity.
func (c *Client) CurrentIdentity(ctx context.Context) (*types.Identity, error) {
	var identity types.Identity
	if err := c.get(ctx, "/api/users/me", &identity); err != nil {
		return nil, fmt.Errorf("identity lookup failed: %w", err)
	}
	return &identity, nil
}

// RoomMessages fetches one page of a room's message history, most recent
// page first. Page numbering starts at zero.
func (c *Client) RoomMessages(ctx context.Context, roomID int64, page, size int) (*MessagePage, error) {
	path := fmt.Sprintf("/api/chat/rooms/%d/messages?page=%d&size=%d", roomID, page, size)
	var result MessagePage
	if err := c.get(ctx, path, &result); err != nil {
		return nil, fmt.Errorf("history load failed for room %d: %w", roomID, err)
	}
	return &result, nil
}

// SendMessage posts a message over the fallback path and returns the
// created message as the backend stored it.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (*types.Message, error) {
	if err := types.ValidateOutgoing(req.RoomID, req.Content, req.Kind); err != nil {
		return nil, err
	}
	var msg types.Message
	if err := c.post(ctx, "/api/chat/messages", req, &msg); err != nil {
		return nil, fmt.Errorf("fallback send failed for room %d: %w", req.RoomID, err)
	}
	return &msg, nil
}

// LeaveRoom notifies the backend that the participant left the room.
func (c *Client) LeaveRoom(ctx context.Context, roomID int64) error {
	path := fmt.Sprintf("/api/chat/rooms/%d/leave", roomID)
	if err := c.post(ctx, path, nil, nil); err != nil {
		return fmt.Errorf("leave room %d failed: %w", roomID, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.credential != "" {
		req.Header.Set("Cookie", c.credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%w: %s (status %d)", ErrRequestFailed, apiErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if env.Data == nil {
		return ErrInvalidResponse
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	c.logger.Debug("rest call completed",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode))
	return nil
}
