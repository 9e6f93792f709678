// Package chat holds the value types shared by the chat client packages.
package chat

import (
	"sort"
	"time"
)

// Message is one line of room history. Messages are immutable once created.
type Message struct {
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SortByTime orders msgs oldest-first in place. Messages with equal
// timestamps keep their relative order.
func SortByTime(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
