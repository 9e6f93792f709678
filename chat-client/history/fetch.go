// Package history loads the persisted message backlog of a room.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/portal-chat/chat-client/chat"
)

// ErrHistoryUnavailable is returned for any failed or unrecognized history response.
var ErrHistoryUnavailable = errors.New("history unavailable")

const defaultTimeout = 10 * time.Second

// StatusError reports a non-success HTTP status from the history endpoint.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("history: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("history: status %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrHistoryUnavailable }

// envelope is the standard API response wrapper.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type wireMessage struct {
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Client fetches history over HTTP.
type Client struct {
	// BaseURL is the http(s) origin of the chat server, e.g. http://localhost:8000.
	BaseURL    string
	HTTPClient *http.Client
	// Timeout bounds a single fetch. Zero means 10s.
	Timeout time.Duration
	Logger  *zerolog.Logger
}

// MessagesURL returns the room-scoped history endpoint for base.
func MessagesURL(base, room string) string {
	return strings.TrimRight(base, "/") + "/api/chat/rooms/" + url.PathEscape(room) + "/messages/"
}

// Fetch performs one request for the backlog of room and returns it
// oldest-first. Every failure wraps ErrHistoryUnavailable.
func (c *Client) Fetch(ctx context.Context, room, token string) ([]chat.Message, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, MessagesURL(c.BaseURL, room), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrHistoryUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrHistoryUnavailable, decodeErr)
	}
	if env.Status != "success" {
		return nil, fmt.Errorf("%w: status %q", ErrHistoryUnavailable, env.Status)
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, fmt.Errorf("%w: missing data", ErrHistoryUnavailable)
	}
	var wire []wireMessage
	if err := json.Unmarshal(env.Data, &wire); err != nil {
		return nil, fmt.Errorf("%w: decode data: %v", ErrHistoryUnavailable, err)
	}
	out := make([]chat.Message, 0, len(wire))
	for _, w := range wire {
		out = append(out, chat.Message{Username: w.Username, Content: w.Content, Timestamp: w.Timestamp})
	}
	chat.SortByTime(out)
	c.logger().Debug().Str("room", room).Int("count", len(out)).Msg("[history] fetched")
	return out, nil
}

func (c *Client) logger() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return &log.Logger
}
