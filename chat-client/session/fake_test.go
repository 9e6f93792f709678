package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gosuda/portal-chat/chat-client/chat"
	"github.com/gosuda/portal-chat/chat-client/credential"
	"github.com/gosuda/portal-chat/chat-client/transport"
)

var quiet = zerolog.Nop()

type fakeOpener struct {
	opened chan *fakeHandle
	count  atomic.Int32
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{opened: make(chan *fakeHandle, 16)}
}

func (f *fakeOpener) Open(_ context.Context, room, token string, emit func(transport.Event)) transport.Handle {
	f.count.Add(1)
	h := &fakeHandle{id: uuid.New(), room: room, token: token, emit: emit}
	f.opened <- h
	return h
}

func (f *fakeOpener) next(t *testing.T) *fakeHandle {
	t.Helper()
	select {
	case h := <-f.opened:
		return h
	case <-time.After(5 * time.Second):
		t.Fatal("transport was never opened")
		return nil
	}
}

// fakeHandle lets a test drive transport events by hand. Event methods
// enqueue on the controller before returning.
type fakeHandle struct {
	id    uuid.UUID
	room  string
	token string
	emit  func(transport.Event)

	mu     sync.Mutex
	open   bool
	closed bool
	sent   []string
}

func (h *fakeHandle) ID() uuid.UUID { return h.id }

func (h *fakeHandle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

func (h *fakeHandle) Send(text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.open {
		return transport.ErrNotOpen
	}
	h.sent = append(h.sent, text)
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	already := h.closed
	h.open = false
	h.closed = true
	h.mu.Unlock()
	if !already {
		go h.emit(transport.Event{Handle: h.id, Kind: transport.EventClosed})
	}
	return nil
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) sentFrames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.sent...)
}

func (h *fakeHandle) Opened() {
	h.mu.Lock()
	h.open = true
	h.mu.Unlock()
	h.emit(transport.Event{Handle: h.id, Kind: transport.EventOpened})
}

func (h *fakeHandle) Message(user, content string, ts time.Time) {
	h.emit(transport.Event{Handle: h.id, Kind: transport.EventMessage, Username: user, Content: content, Timestamp: ts})
}

func (h *fakeHandle) Presence(user string, action transport.PresenceAction) {
	h.emit(transport.Event{Handle: h.id, Kind: transport.EventPresence, Username: user, Action: action})
}

func (h *fakeHandle) Errored() {
	h.mu.Lock()
	h.open = false
	h.mu.Unlock()
	h.emit(transport.Event{Handle: h.id, Kind: transport.EventErrored, Err: transport.ErrTransport})
}

// Drop simulates the server ending the connection.
func (h *fakeHandle) Drop() {
	h.mu.Lock()
	h.open = false
	h.closed = true
	h.mu.Unlock()
	h.emit(transport.Event{Handle: h.id, Kind: transport.EventClosed})
}

type fakeHistory struct {
	msgs    []chat.Message
	err     error
	release chan struct{}
	calls   atomic.Int32
}

func (f *fakeHistory) Fetch(ctx context.Context, _, _ string) ([]chat.Message, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.msgs, f.err
}

type harness struct {
	c       *Controller
	opener  *fakeOpener
	history *fakeHistory
	creds   *credential.Static
}

func newHarness(t *testing.T, history *fakeHistory, policy ReconnectPolicy) *harness {
	t.Helper()
	h := &harness{
		opener:  newFakeOpener(),
		history: history,
		creds:   credential.NewStatic("tok", "alice"),
	}
	cfg := Config{
		Credentials: h.creds,
		Transport:   h.opener,
		Reconnect:   policy,
		Logger:      &quiet,
	}
	if history != nil {
		cfg.History = history
	}
	h.c = New(cfg)
	t.Cleanup(func() { _ = h.c.Close() })
	return h
}

// barrier waits until every command queued so far has been applied.
func barrier(t *testing.T, c *Controller) {
	t.Helper()
	if err := c.call(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("barrier: %v", err)
	}
}

func waitFor(t *testing.T, c *Controller, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	updates, cancel := c.Subscribe()
	defer cancel()
	deadline := time.After(5 * time.Second)
	for {
		if s := c.Snapshot(); cond(s) {
			return s
		}
		select {
		case <-updates:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %s; last snapshot %+v", what, c.Snapshot())
		}
	}
}

func at(sec int) time.Time {
	return time.Date(2025, 1, 1, 12, 0, sec, 0, time.UTC)
}

func contents(msgs []chat.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Username+"/"+m.Content)
	}
	return out
}
