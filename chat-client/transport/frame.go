package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// inboundFrame is the union of every server frame. Type selects the fields
// that are meaningful.
type inboundFrame struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
}

type outboundFrame struct {
	Message string `json:"message"`
}

// decodeFrame converts a server frame into an event. ok is false for frame
// types the client does not know, which are ignored.
func decodeFrame(data []byte) (ev Event, ok bool, err error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Event{}, false, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Type {
	case "message":
		return Event{
			Kind:      EventMessage,
			Username:  f.Username,
			Content:   f.Message,
			Timestamp: parseTimestamp(f.Timestamp),
		}, true, nil
	case "user_online":
		action := PresenceAction(f.Action)
		if action != Joined && action != Left {
			return Event{}, false, nil
		}
		if f.Username == "" {
			return Event{}, false, nil
		}
		return Event{Kind: EventPresence, Username: f.Username, Action: action}, true, nil
	}
	return Event{}, false, nil
}

// parseTimestamp accepts RFC 3339 with or without fractional seconds. A
// missing or unparseable value is replaced by the local receive time.
func parseTimestamp(s string) time.Time {
	if s != "" {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts
		}
	}
	return time.Now().UTC()
}

// encodeFrame builds an outbound frame. HTML escaping is disabled so <, >
// and & reach the server as typed.
func encodeFrame(text string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(outboundFrame{Message: text}); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
