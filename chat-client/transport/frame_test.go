package transport

import (
	"testing"
	"time"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		wantOK bool
		want   Event
	}{
		{
			name:   "message",
			data:   `{"type":"message","username":"carol","message":"yo","timestamp":"2025-01-01T12:00:05.5+00:00"}`,
			wantOK: true,
			want: Event{
				Kind:      EventMessage,
				Username:  "carol",
				Content:   "yo",
				Timestamp: time.Date(2025, 1, 1, 12, 0, 5, 500000000, time.UTC),
			},
		},
		{
			name:   "joined",
			data:   `{"type":"user_online","username":"dave","action":"joined"}`,
			wantOK: true,
			want:   Event{Kind: EventPresence, Username: "dave", Action: Joined},
		},
		{
			name:   "left",
			data:   `{"type":"user_online","username":"dave","action":"left"}`,
			wantOK: true,
			want:   Event{Kind: EventPresence, Username: "dave", Action: Left},
		},
		{name: "unknown action", data: `{"type":"user_online","username":"dave","action":"idle"}`},
		{name: "presence without user", data: `{"type":"user_online","action":"joined"}`},
		{name: "unknown type", data: `{"type":"typing","username":"dave"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok, err := decodeFrame([]byte(tt.data))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if ev.Kind != tt.want.Kind || ev.Username != tt.want.Username || ev.Content != tt.want.Content || ev.Action != tt.want.Action {
				t.Fatalf("got %+v, want %+v", ev, tt.want)
			}
			if !tt.want.Timestamp.IsZero() && !ev.Timestamp.Equal(tt.want.Timestamp) {
				t.Fatalf("timestamp = %v, want %v", ev.Timestamp, tt.want.Timestamp)
			}
		})
	}
}

func TestDecodeFrameMalformed(t *testing.T) {
	if _, _, err := decodeFrame([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestDecodeFrameMissingTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ev, ok, err := decodeFrame([]byte(`{"type":"message","username":"a","message":"b"}`))
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if ev.Timestamp.Before(before) {
		t.Fatalf("expected receive time fallback, got %v", ev.Timestamp)
	}
}

func TestEncodeFrameKeepsHTML(t *testing.T) {
	got, err := encodeFrame("<b>hi</b> & bye")
	if err != nil {
		t.Fatal(err)
	}
	want := `{"message":"<b>hi</b> & bye"}`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}
