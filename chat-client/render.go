package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/gosuda/portal-chat/chat-client/session"
)

// renderer prints the parts of a snapshot that changed since the last one.
type renderer struct {
	out     io.Writer
	sess    uint64
	room    string
	state   session.State
	printed int
	online  []string
	started bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

func (r *renderer) render(s session.Snapshot) {
	if !r.started || s.Session != r.sess || s.Room != r.room || len(s.Messages) < r.printed {
		r.started = true
		r.sess = s.Session
		r.room = s.Room
		r.printed = 0
		r.online = nil
		if s.Room != "" {
			fmt.Fprintf(r.out, "== #%s ==\n", s.Room)
		}
	}
	if s.State != r.state {
		r.state = s.State
		switch s.State {
		case session.Reconnecting:
			fmt.Fprintf(r.out, "-- %s (attempt %d)\n", s.State.Placeholder(), s.Attempt)
		default:
			fmt.Fprintf(r.out, "-- %s\n", s.State)
		}
	}
	for _, m := range s.Messages[r.printed:] {
		who := m.Username
		if s.IsSelf(who) {
			who += " (you)"
		}
		fmt.Fprintf(r.out, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04:05"), who, m.Content)
	}
	r.printed = len(s.Messages)
	if !slices.Equal(r.online, s.Online) {
		r.online = slices.Clone(s.Online)
		fmt.Fprintf(r.out, "-- online (%d): %v\n", len(s.Online), s.Online)
	}
}
