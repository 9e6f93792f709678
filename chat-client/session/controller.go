// Package session implements the realtime session controller of the chat
// client: it owns the connection lifecycle of one room, merges the history
// backlog and live events into a single ordered log, and maintains the set
// of users online.
//
// All session state is owned by one goroutine. User calls, transport
// events and history results are queued as commands and applied one at a
// time in arrival order. Readers use Snapshot, which never waits on the
// loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/portal-chat/chat-client/chat"
	"github.com/gosuda/portal-chat/chat-client/credential"
	"github.com/gosuda/portal-chat/chat-client/transport"
)

const commandBuffer = 256

// HistoryFetcher loads the backlog of a room once per Enter.
type HistoryFetcher interface {
	Fetch(ctx context.Context, room, token string) ([]chat.Message, error)
}

// Config wires a Controller to its collaborators.
type Config struct {
	Credentials credential.Provider
	// History may be nil, in which case every session starts with an empty log.
	History   HistoryFetcher
	Transport transport.Opener
	Reconnect ReconnectPolicy
	Logger    *zerolog.Logger
}

// Snapshot is a consistent, immutable copy of session state.
type Snapshot struct {
	Room     string
	Username string
	State    State
	// Attempt is the current automatic reconnect attempt, 0 when none.
	Attempt  int
	// Session increases on every Enter, including re-entry of the same room.
	Session  uint64
	Messages []chat.Message
	Online   []string
	// Version increases on every change.
	Version uint64
}

// IsSelf reports whether name is the logged-in user of the session.
func (s Snapshot) IsSelf(name string) bool {
	return name != "" && name == s.Username
}

// Controller is the session state machine for one room view.
type Controller struct {
	cfg Config
	log zerolog.Logger

	commands  chan func()
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	snap  atomic.Pointer[Snapshot]
	subMu sync.Mutex
	subs  map[chan struct{}]struct{}

	// Everything below is owned by the loop goroutine.
	session  uint64
	room     string
	username string
	token    string
	state    State
	messages []chat.Message
	online   *PresenceSet
	handle   transport.Handle

	// gen identifies the current session; results of older sessions are dropped.
	gen         uint64
	ctx         context.Context
	cancel      context.CancelFunc
	historyDone bool
	pending     []transport.Event

	attempt int
	backoff *backoff.ExponentialBackOff
	retry   *time.Timer

	dirty   bool
	version uint64
}

// New starts a controller in the Disconnected state.
func New(cfg Config) *Controller {
	c := &Controller{
		cfg:      cfg,
		log:      log.Logger,
		commands: make(chan func(), commandBuffer),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		subs:     make(map[chan struct{}]struct{}),
		online:   NewPresenceSet(),
		state:    Disconnected,
	}
	if cfg.Logger != nil {
		c.log = *cfg.Logger
	}
	c.publish()
	go c.loop()
	return c
}

// Enter opens a session for room using the provider's credential. Any
// existing session is torn down first and its log discarded. History is
// fetched concurrently with the connect; live events that arrive before the
// history merge are held back and applied after it.
func (c *Controller) Enter(ctx context.Context, room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return ErrNoRoom
	}
	return c.call(ctx, func() error { return c.enter(room) })
}

// Exit closes the active transport, clears presence and settles in
// Disconnected. The message log is kept until the next Enter. Exit is
// idempotent.
func (c *Controller) Exit(ctx context.Context) error {
	err := c.call(ctx, func() error {
		c.exit("exit room")
		return nil
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Invalidate ends the session because its credential is no longer valid.
func (c *Controller) Invalidate(ctx context.Context) error {
	err := c.call(ctx, func() error {
		c.exit("credential invalidated")
		return nil
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Send transmits text to the room. The text is trimmed; blank text is
// rejected with ErrEmptyMessage and sends outside Connected with
// ErrNotConnected. The log is not changed: the message appears once the
// server broadcasts it back.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	return c.call(ctx, func() error { return c.send(text) })
}

// Snapshot returns a copy of the latest published state.
func (c *Controller) Snapshot() Snapshot {
	s := *c.snap.Load()
	s.Messages = slices.Clone(s.Messages)
	s.Online = slices.Clone(s.Online)
	return s
}

// State returns the current connection state.
func (c *Controller) State() State {
	return c.snap.Load().State
}

// Subscribe returns a channel that receives a signal after state changes.
// Signals coalesce: a slow reader sees at least one signal after the last
// change. Call the returned func to unsubscribe.
func (c *Controller) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, ch)
			c.subMu.Unlock()
		})
	}
}

// Close exits the room and stops the controller. Later calls return ErrClosed.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	<-c.done
	return nil
}

func (c *Controller) loop() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.commands:
			fn()
			c.flush()
		case <-c.closing:
			c.exit("controller closed")
			c.flush()
			return
		}
	}
}

func (c *Controller) submit(fn func()) bool {
	select {
	case <-c.closing:
		return false
	default:
	}
	select {
	case c.commands <- fn:
		return true
	case <-c.closing:
		return false
	}
}

// call runs fn on the loop and waits for its result. The change is
// published before call returns.
func (c *Controller) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	ok := c.submit(func() {
		err := fn()
		c.flush()
		errc <- err
	})
	if !ok {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-c.done:
		select {
		case err := <-errc:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// emit is the event sink handed to every transport handle.
func (c *Controller) emit(ev transport.Event) {
	c.submit(func() { c.onEvent(ev) })
}

func (c *Controller) enter(room string) error {
	if c.cfg.Credentials == nil {
		return ErrNoCredential
	}
	cred, err := c.cfg.Credentials.Credential()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoCredential, err)
	}

	c.teardown()
	c.gen++
	c.session++
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.room = room
	c.username = cred.Username
	c.token = cred.Token
	c.messages = nil
	c.online.Clear()
	c.historyDone = false
	c.pending = nil
	c.attempt = 0
	c.backoff = c.cfg.Reconnect.newBackOff()
	c.dirty = true

	c.log.Info().Str("room", room).Str("user", cred.Username).Msg("[session] entering room")
	c.setState(Connecting)
	c.fetchHistory()
	c.watchCredential()
	c.open()
	return nil
}

func (c *Controller) exit(reason string) {
	idle := c.handle == nil && c.cancel == nil && c.retry == nil
	c.teardown()
	c.gen++
	c.attempt = 0
	if c.online.Clear() {
		c.dirty = true
	}
	if idle && c.state == Disconnected {
		return
	}
	c.log.Info().Str("room", c.room).Str("reason", reason).Msg("[session] left room")
	c.setState(Disconnected)
}

// teardown stops everything tied to the current session. The closed
// handle's remaining events no longer match c.handle and are dropped.
func (c *Controller) teardown() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.handle != nil {
		_ = c.handle.Close()
		c.handle = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
		c.ctx = nil
	}
	c.pending = nil
}

func (c *Controller) open() {
	h := c.cfg.Transport.Open(c.ctx, c.room, c.token, c.emit)
	c.handle = h
	c.log.Debug().Str("room", c.room).Str("handle", h.ID().String()).Msg("[session] transport opening")
}

func (c *Controller) fetchHistory() {
	if c.cfg.History == nil {
		c.historyDone = true
		return
	}
	ctx, gen, room, token := c.ctx, c.gen, c.room, c.token
	fetcher := c.cfg.History
	go func() {
		msgs, err := fetcher.Fetch(ctx, room, token)
		c.submit(func() { c.mergeHistory(gen, msgs, err) })
	}()
}

func (c *Controller) watchCredential() {
	exp, ok := c.cfg.Credentials.(credential.Expirer)
	if !ok {
		return
	}
	ctx, gen, done := c.ctx, c.gen, exp.Done()
	go func() {
		select {
		case <-done:
			c.submit(func() {
				if gen == c.gen {
					c.exit("credential invalidated")
				}
			})
		case <-ctx.Done():
		}
	}()
}

// mergeHistory seeds the log with the backlog, then applies the live
// events that were held back while the fetch was in flight.
func (c *Controller) mergeHistory(gen uint64, msgs []chat.Message, err error) {
	if gen != c.gen || c.historyDone {
		return
	}
	if err != nil {
		c.log.Warn().Err(err).Str("room", c.room).Msg("[session] history unavailable; starting with an empty log")
		msgs = nil
	}
	seed := slices.Clone(msgs)
	chat.SortByTime(seed)
	c.messages = append(seed, c.messages...)
	c.historyDone = true
	c.dirty = true

	pending := c.pending
	c.pending = nil
	for _, ev := range pending {
		if c.handle == nil || ev.Handle != c.handle.ID() {
			continue
		}
		c.apply(ev)
	}
}

func (c *Controller) onEvent(ev transport.Event) {
	if c.handle == nil || ev.Handle != c.handle.ID() {
		c.log.Debug().Str("handle", ev.Handle.String()).Stringer("event", ev.Kind).Msg("[session] drop event from superseded transport")
		return
	}
	if !c.historyDone {
		c.pending = append(c.pending, ev)
		return
	}
	c.apply(ev)
}

func (c *Controller) apply(ev transport.Event) {
	switch ev.Kind {
	case transport.EventOpened:
		c.attempt = 0
		c.backoff.Reset()
		c.setState(Connected)
		// Optimistic: the server's own join broadcast for this user is not awaited.
		if c.online.Add(c.username) {
			c.dirty = true
		}
	case transport.EventMessage:
		c.messages = append(c.messages, chat.Message{
			Username:  ev.Username,
			Content:   ev.Content,
			Timestamp: ev.Timestamp,
		})
		c.dirty = true
	case transport.EventPresence:
		switch ev.Action {
		case transport.Joined:
			if c.online.Add(ev.Username) {
				c.dirty = true
			}
		case transport.Left:
			if c.online.Remove(ev.Username) {
				c.dirty = true
			}
		}
	case transport.EventErrored:
		c.log.Warn().Err(ev.Err).Str("room", c.room).Msg("[session] transport error")
		c.setState(Failed)
	case transport.EventClosed:
		c.handle = nil
		if c.online.Clear() {
			c.dirty = true
		}
		c.setState(Disconnected)
		c.scheduleReconnect()
	}
}

func (c *Controller) scheduleReconnect() {
	p := c.cfg.Reconnect
	if !p.enabled() {
		return
	}
	if c.attempt >= p.MaxAttempts {
		c.log.Warn().Str("room", c.room).Int("attempts", c.attempt).Msg("[session] giving up reconnecting")
		c.attempt = 0
		c.dirty = true
		return
	}
	c.attempt++
	delay := c.backoff.NextBackOff()
	gen, attempt := c.gen, c.attempt
	c.retry = time.AfterFunc(delay, func() {
		c.submit(func() { c.reconnect(gen, attempt) })
	})
	c.dirty = true
	c.log.Info().Str("room", c.room).Int("attempt", attempt).Dur("delay", delay).Msg("[session] reconnect scheduled")
	c.setState(Reconnecting)
}

func (c *Controller) reconnect(gen uint64, attempt int) {
	if gen != c.gen || attempt != c.attempt || c.state != Reconnecting {
		return
	}
	c.retry = nil
	cred, err := c.cfg.Credentials.Credential()
	if err != nil {
		c.log.Warn().Err(err).Msg("[session] credential unavailable; not reconnecting")
		c.exit("credential unavailable")
		return
	}
	c.token = cred.Token
	c.setState(Connecting)
	c.open()
}

func (c *Controller) send(text string) error {
	if c.state != Connected || c.handle == nil || !c.handle.IsOpen() {
		return ErrNotConnected
	}
	if err := c.handle.Send(text); err != nil {
		if errors.Is(err, transport.ErrNotOpen) {
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.log.Debug().Str("room", c.room).Stringer("from", c.state).Stringer("to", s).Msg("[session] state")
	c.state = s
	c.dirty = true
}

// flush publishes a new snapshot and wakes subscribers if anything changed.
func (c *Controller) flush() {
	if !c.dirty {
		return
	}
	c.dirty = false
	c.version++
	c.publish()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *Controller) publish() {
	c.snap.Store(&Snapshot{
		Room:     c.room,
		Username: c.username,
		State:    c.state,
		Attempt:  c.attempt,
		Session:  c.session,
		Messages: c.messages[:len(c.messages):len(c.messages)],
		Online:   c.online.List(),
		Version:  c.version,
	})
}
