package send

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"bookchat/internal/connection"
	"bookchat/internal/rest"
	"bookchat/pkg/types"
)

var testIdentity = &types.Identity{ID: 100, Nickname: "sender"}

type fakeChannel struct {
	mu        sync.Mutex
	state     connection.State
	published []*types.Frame
	pubErr    error
}

func (c *fakeChannel) State() connection.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChannel) Publish(frame *types.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pubErr != nil {
		return c.pubErr
	}
	c.published = append(c.published, frame)
	return nil
}

func (c *fakeChannel) publishCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

type fakeFallback struct {
	mu     sync.Mutex
	calls  int
	result *types.Message
	err    error
	block  chan struct{}
}

func (f *fakeFallback) SendMessage(ctx context.Context, req rest.SendRequest) (*types.Message, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeFallback) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSink struct {
	mu     sync.Mutex
	merged []*types.Message
}

func (s *fakeSink) Merge(msg *types.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merged = append(s.merged, msg)
	return true
}

func (s *fakeSink) mergeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.merged)
}

func newCoordinator(t *testing.T, channel *fakeChannel, fallback *fakeFallback, sink *fakeSink) *Coordinator {
	t.Helper()
	return NewCoordinator(42, testIdentity, channel, fallback, sink, zaptest.NewLogger(t))
}

func TestSend_RealtimePath_NeverAppendsLocally(t *testing.T) {
	// The channel accepts the publish but never echoes: the message must
	// not appear in the view through any other route.
	channel := &fakeChannel{state: connection.StateConnected}
	fallback := &fakeFallback{}
	sink := &fakeSink{}
	coordinator := newCoordinator(t, channel, fallback, sink)

	outcome, err := coordinator.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if outcome.Path != PathRealtime {
		t.Errorf("path = %v, want realtime", outcome.Path)
	}
	if channel.publishCount() != 1 {
		t.Errorf("publish count = %d, want 1", channel.publishCount())
	}
	if fallback.callCount() != 0 {
		t.Errorf("fallback called %d times, want 0", fallback.callCount())
	}
	if sink.mergeCount() != 0 {
		t.Errorf("local append count = %d, want 0 (echo is the only append path)", sink.mergeCount())
	}
}

func TestSend_RealtimePayloadShape(t *testing.T) {
	channel := &fakeChannel{state: connection.StateConnected}
	coordinator := newCoordinator(t, channel, &fakeFallback{}, &fakeSink{})

	if _, err := coordinator.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	frame := channel.published[0]
	if frame.Action != types.ActionSendMessage {
		t.Errorf("action = %s, want chat.sendMessage", frame.Action)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("payload did not decode: %v", err)
	}
	if payload["content"] != "hello" {
		t.Errorf("payload content = %v", payload["content"])
	}
	if payload["messageType"] != types.MessageKindText {
		t.Errorf("payload messageType = %v", payload["messageType"])
	}
	if int64(payload["senderId"].(float64)) != testIdentity.ID {
		t.Errorf("payload senderId = %v", payload["senderId"])
	}
}

func TestSend_FallbackPath_AppendsExactlyOnce(t *testing.T) {
	channel := &fakeChannel{state: connection.StateFailed}
	created := &types.Message{ID: 10, RoomID: 42, SenderID: testIdentity.ID, Content: "hello", Kind: types.MessageKindText, CreatedAt: time.Now()}
	fallback := &fakeFallback{result: created}
	sink := &fakeSink{}
	coordinator := newCoordinator(t, channel, fallback, sink)

	outcome, err := coordinator.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if outcome.Path != PathFallback {
		t.Errorf("path = %v, want fallback", outcome.Path)
	}
	if outcome.Message == nil || outcome.Message.ID != 10 {
		t.Errorf("outcome message = %+v, want id 10", outcome.Message)
	}
	if channel.publishCount() != 0 {
		t.Errorf("publish count = %d, want 0", channel.publishCount())
	}
	if sink.mergeCount() != 1 {
		t.Errorf("append count = %d, want exactly 1", sink.mergeCount())
	}
}

func TestSend_FallbackFailure_NothingAppended(t *testing.T) {
	channel := &fakeChannel{state: connection.StateDisconnected}
	fallback := &fakeFallback{err: errors.New("backend unavailable")}
	sink := &fakeSink{}
	coordinator := newCoordinator(t, channel, fallback, sink)

	if _, err := coordinator.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected send error")
	}
	if sink.mergeCount() != 0 {
		t.Errorf("append count = %d, want 0 after a failed send", sink.mergeCount())
	}

	// Not retried automatically; a second explicit attempt is a fresh send.
	if _, err := coordinator.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected send error on explicit retry")
	}
	if fallback.callCount() != 2 {
		t.Errorf("fallback calls = %d, want 2", fallback.callCount())
	}
}

func TestSend_RacingDisconnect_FallsThroughToFallback(t *testing.T) {
	// State says Connected, but the publish loses the race with the
	// session going away; the coordinator must use the fallback instead
	// of surfacing a transient error.
	channel := &fakeChannel{state: connection.StateConnected, pubErr: connection.ErrNotConnected}
	created := &types.Message{ID: 11, RoomID: 42, SenderID: testIdentity.ID, Content: "hello", Kind: types.MessageKindText, CreatedAt: time.Now()}
	fallback := &fakeFallback{result: created}
	sink := &fakeSink{}
	coordinator := newCoordinator(t, channel, fallback, sink)

	outcome, err := coordinator.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if outcome.Path != PathFallback {
		t.Errorf("path = %v, want fallback", outcome.Path)
	}
	if sink.mergeCount() != 1 {
		t.Errorf("append count = %d, want 1", sink.mergeCount())
	}
}

func TestSend_RealtimePublishError_Surfaced(t *testing.T) {
	channel := &fakeChannel{state: connection.StateConnected, pubErr: errors.New("write timed out")}
	fallback := &fakeFallback{}
	coordinator := newCoordinator(t, channel, fallback, &fakeSink{})

	if _, err := coordinator.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected publish error to surface")
	}
	if fallback.callCount() != 0 {
		t.Errorf("fallback calls = %d, want 0 for non-connection errors", fallback.callCount())
	}
}

func TestSend_RejectsEmptyBody(t *testing.T) {
	coordinator := newCoordinator(t, &fakeChannel{state: connection.StateConnected}, &fakeFallback{}, &fakeSink{})

	if _, err := coordinator.Send(context.Background(), "   "); !errors.Is(err, types.ErrEmptyContent) {
		t.Errorf("Send() error = %v, want ErrEmptyContent", err)
	}
}

func TestSend_RejectsConcurrentDuplicate(t *testing.T) {
	channel := &fakeChannel{state: connection.StateDisconnected}
	block := make(chan struct{})
	fallback := &fakeFallback{
		result: &types.Message{ID: 12, RoomID: 42, Kind: types.MessageKindText, CreatedAt: time.Now()},
		block:  block,
	}
	coordinator := newCoordinator(t, channel, fallback, &fakeSink{})

	firstDone := make(chan error, 1)
	go func() {
		_, err := coordinator.Send(context.Background(), "hello")
		firstDone <- err
	}()

	// Wait until the first send is parked inside the fallback call.
	deadline := time.Now().Add(time.Second)
	for fallback.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := coordinator.Send(context.Background(), "hello again"); !errors.Is(err, ErrSendInFlight) {
		t.Errorf("concurrent Send() error = %v, want ErrSendInFlight", err)
	}

	close(block)
	if err := <-firstDone; err != nil {
		t.Errorf("first Send() error = %v", err)
	}

	// The guard releases once the first send completes.
	if _, err := coordinator.Send(context.Background(), "later"); err != nil {
		t.Errorf("follow-up Send() error = %v", err)
	}
}
