package room

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultHistoryLimit is the number of messages the history endpoint returns.
const DefaultHistoryLimit = 50

// Message is one stored chat line.
type Message struct {
	ID        uint64    `json:"id"`
	Room      string    `json:"room"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Info summarizes a room for the room listing.
type Info struct {
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	IsActive     bool      `json:"is_active"`
	MessageCount int       `json:"message_count"`
	Online       int       `json:"online"`
}

// frame is the server-to-client wire shape.
type frame struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp,omitempty"`
	Action    string `json:"action,omitempty"`
}

type room struct {
	name      string
	createdAt time.Time
	clients   map[*client]struct{}
	backlog   []Message
	count     int
}

// Hub tracks rooms, their connected clients and a bounded in-memory backlog
// per room. Messages are mirrored to the store when one is attached.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	nextID uint64
	limit  int
	store  *MessageStore
	logger *zerolog.Logger
	wg     sync.WaitGroup
}

func NewHub(store *MessageStore, historyLimit int, logger *zerolog.Logger) *Hub {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = &log.Logger
	}
	h := &Hub{
		rooms:  make(map[string]*room),
		limit:  historyLimit,
		store:  store,
		logger: logger,
	}
	if counts, err := store.RoomCounts(); err != nil {
		logger.Warn().Err(err).Msg("[chat] load room counts failed")
	} else {
		for name, n := range counts {
			r := h.roomLocked(name)
			r.count = n
		}
	}
	return h
}

// roomLocked returns the named room, creating and preloading it if needed.
// Callers hold h.mu for writing.
func (h *Hub) roomLocked(name string) *room {
	if r, ok := h.rooms[name]; ok {
		return r
	}
	r := &room{name: name, createdAt: time.Now().UTC(), clients: make(map[*client]struct{})}
	if msgs, err := h.store.LoadRecent(name, h.limit); err != nil {
		h.logger.Warn().Err(err).Str("room", name).Msg("[chat] load history failed")
	} else if len(msgs) > 0 {
		r.backlog = msgs
		r.count = len(msgs)
		r.createdAt = msgs[0].Timestamp
		if last := msgs[len(msgs)-1].ID; last >= h.nextID {
			h.nextID = last + 1
		}
	}
	h.rooms[name] = r
	return r
}

// History returns the newest messages of name, oldest-first. Unknown rooms
// yield an empty slice.
func (h *Hub) History(name string) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[name]
	if !ok {
		return []Message{}
	}
	out := make([]Message, len(r.backlog))
	copy(out, r.backlog)
	return out
}

// Rooms lists known rooms by name.
func (h *Hub) Rooms() []Info {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Info, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, Info{
			Name:         r.name,
			CreatedAt:    r.createdAt,
			IsActive:     true,
			MessageCount: r.count,
			Online:       len(r.clients),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Online returns the usernames connected to name, sorted.
func (h *Hub) Online(name string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[name]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{}, len(r.clients))
	for c := range r.clients {
		seen[c.username] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) join(c *client) {
	h.mu.Lock()
	r := h.roomLocked(c.room)
	r.clients[c] = struct{}{}
	peers := r.peers()
	h.mu.Unlock()
	h.logger.Info().Str("room", c.room).Str("user", c.username).Msg("[chat] joined")
	broadcast(peers, frame{Type: "user_online", Username: c.username, Action: "joined"})
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	r, ok := h.rooms[c.room]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, member := r.clients[c]; !member {
		h.mu.Unlock()
		return
	}
	delete(r.clients, c)
	peers := r.peers()
	h.mu.Unlock()
	h.logger.Info().Str("room", c.room).Str("user", c.username).Msg("[chat] left")
	broadcast(peers, frame{Type: "user_online", Username: c.username, Action: "left"})
}

// post stores text from c and fans it out to the room. Blank messages are
// dropped.
func (h *Hub) post(c *client, text string) {
	text = SanitizeMessage(text)
	if text == "" {
		return
	}
	h.mu.Lock()
	r := h.roomLocked(c.room)
	m := Message{
		ID:        h.nextID,
		Room:      c.room,
		Username:  c.username,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}
	h.nextID++
	r.backlog = append(r.backlog, m)
	if len(r.backlog) > h.limit {
		copy(r.backlog, r.backlog[len(r.backlog)-h.limit:])
		r.backlog = r.backlog[:h.limit]
	}
	r.count++
	peers := r.peers()
	h.mu.Unlock()

	if _, err := h.store.Append(m); err != nil {
		h.logger.Debug().Err(err).Msg("[chat] persist message")
	}
	broadcast(peers, frame{
		Type:      "message",
		Message:   m.Content,
		Username:  m.Username,
		Timestamp: m.Timestamp.Format(time.RFC3339Nano),
	})
}

// CloseAll sends a going-away close to every connected client.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*client
	for _, r := range h.rooms {
		all = append(all, r.peers()...)
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
}

// Wait blocks until all client goroutines have finished.
func (h *Hub) Wait() {
	h.wg.Wait()
}

func (r *room) peers() []*client {
	out := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	return out
}

func broadcast(peers []*client, f frame) {
	payload, err := encodeJSON(f)
	if err != nil {
		log.Debug().Err(err).Msg("[chat] encode frame")
		return
	}
	for _, c := range peers {
		c.push(payload)
	}
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Keepalive and buffering for client connections.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 64
	maxFrameSize   = 1 << 20
)

type inboundFrame struct {
	Message string `json:"message"`
}

// client is one websocket participant of a room.
type client struct {
	username string
	room     string
	conn     *websocket.Conn
	hub      *Hub

	mu     sync.Mutex
	send   chan []byte
	closed bool
	quit   chan struct{}
}

func newClient(h *Hub, conn *websocket.Conn, roomName, username string) *client {
	return &client{
		username: username,
		room:     roomName,
		conn:     conn,
		hub:      h,
		send:     make(chan []byte, sendBufferSize),
		quit:     make(chan struct{}),
	}
}

// serve joins the room and runs the connection until it ends.
func (c *client) serve() {
	c.hub.wg.Add(2)
	c.hub.join(c)
	go func() {
		defer c.hub.wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer c.hub.wg.Done()
		c.readLoop()
	}()
}

func (c *client) readLoop() {
	defer func() {
		c.hub.leave(c)
		c.close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.hub.logger.Debug().Err(err).Str("user", c.username).Msg("[chat] read message")
			return
		}
		var in inboundFrame
		if err := json.Unmarshal(payload, &in); err != nil {
			c.hub.logger.Debug().Err(err).Str("user", c.username).Msg("[chat] malformed frame")
			continue
		}
		c.hub.post(c, in.Message)
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.hub.logger.Debug().Err(err).Str("user", c.username).Msg("[chat] write message")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.quit:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
			return
		}
	}
}

func (c *client) push(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		// drop oldest to avoid blocking
		select {
		case <-c.send:
		default:
		}
		c.send <- payload
	}
}

// close asks the write loop to send a close frame and exit.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.quit)
}
