package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	closeWait      = time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 64
	maxFrameSize   = 1 << 20

	// AuthSubprotocol is offered first; the bearer token follows it as the
	// second offered subprotocol.
	AuthSubprotocol = "authorization"
)

// WebSocket opens room channels over gorilla/websocket.
type WebSocket struct {
	// BaseURL is the http(s) or ws(s) origin of the chat server.
	BaseURL string
	// Dialer is copied per connection. Nil uses websocket.DefaultDialer.
	Dialer *websocket.Dialer
	Logger *zerolog.Logger
}

// RoomURL derives the websocket endpoint of room from base.
func RoomURL(base, room string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	prefix := strings.TrimRight(u.Path, "/")
	u.Path = prefix + "/ws/chat/" + room + "/"
	u.RawPath = prefix + "/ws/chat/" + url.PathEscape(room) + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

func (w *WebSocket) Open(ctx context.Context, room, token string, emit func(Event)) Handle {
	ctx, cancel := context.WithCancel(ctx)
	id := uuid.New()
	h := &wsHandle{
		id:     id,
		emit:   emit,
		cancel: cancel,
		send:   make(chan []byte, sendBufferSize),
		quit:   make(chan struct{}),
		log:    w.logger().With().Str("room", room).Str("handle", id.String()).Logger(),
	}

	dialer := *websocket.DefaultDialer
	if w.Dialer != nil {
		dialer = *w.Dialer
	}
	dialer.Subprotocols = []string{AuthSubprotocol, token}

	target, err := RoomURL(w.BaseURL, room)
	go h.run(ctx, &dialer, target, err)
	return h
}

func (w *WebSocket) logger() *zerolog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return &log.Logger
}

type wsHandle struct {
	id     uuid.UUID
	emit   func(Event)
	cancel context.CancelFunc
	send   chan []byte
	quit   chan struct{}
	open   atomic.Bool
	log    zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	closing  bool
	quitOnce sync.Once
}

func (h *wsHandle) ID() uuid.UUID { return h.id }

func (h *wsHandle) IsOpen() bool { return h.open.Load() }

func (h *wsHandle) Send(text string) error {
	if !h.open.Load() {
		return ErrNotOpen
	}
	payload, err := encodeFrame(text)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	select {
	case <-h.quit:
		return ErrNotOpen
	default:
	}
	select {
	case h.send <- payload:
		return nil
	case <-h.quit:
		return ErrNotOpen
	default:
		return fmt.Errorf("%w: send buffer full", ErrTransport)
	}
}

func (h *wsHandle) Close() error {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return nil
	}
	h.closing = true
	conn := h.conn
	h.mu.Unlock()

	h.open.Store(false)
	h.quitOnce.Do(func() { close(h.quit) })
	h.cancel()
	if conn != nil {
		go func() {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWait))
			_ = conn.Close()
		}()
	}
	return nil
}

func (h *wsHandle) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

func (h *wsHandle) run(ctx context.Context, dialer *websocket.Dialer, target string, urlErr error) {
	defer h.emitEvent(Event{Kind: EventClosed})
	defer h.release()

	if urlErr != nil {
		h.fail(urlErr)
		return
	}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if h.isClosing() {
			return
		}
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		h.fail(err)
		return
	}

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.conn = conn
	h.open.Store(true)
	h.mu.Unlock()

	h.log.Debug().Str("url", target).Msg("[transport] connected")
	h.emitEvent(Event{Kind: EventOpened})

	go h.writeLoop(conn)
	h.readLoop(conn)
}

// release stops the writer and closes the socket once the reader is done.
func (h *wsHandle) release() {
	h.open.Store(false)
	h.quitOnce.Do(func() { close(h.quit) })
	h.cancel()
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (h *wsHandle) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if h.isClosing() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Msg("[transport] connection closed")
				return
			}
			h.fail(err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		ev, ok, err := decodeFrame(payload)
		if err != nil {
			h.log.Warn().Err(err).Msg("[transport] skip malformed frame")
			continue
		}
		if !ok {
			continue
		}
		h.emitEvent(ev)
	}
}

func (h *wsHandle) writeLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.quit:
			return
		case payload := <-h.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.log.Debug().Err(err).Msg("[transport] write message")
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (h *wsHandle) fail(err error) {
	h.log.Debug().Err(err).Msg("[transport] fault")
	h.emitEvent(Event{Kind: EventErrored, Err: fmt.Errorf("%w: %v", ErrTransport, err)})
}

func (h *wsHandle) emitEvent(ev Event) {
	ev.Handle = h.id
	h.emit(ev)
}
