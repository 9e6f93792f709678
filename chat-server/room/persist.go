package room

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble/v2"
)

// MessageStore persists room history in a PebbleDB key-value store.
// Keys are the room name, a zero byte, and an 8-byte big-endian sequence
// number that increases monotonically per room.
type MessageStore struct {
	db   *pebble.DB
	mu   sync.Mutex
	next map[string]uint64
}

// OpenMessageStore opens (or creates) the store in dir.
func OpenMessageStore(dir string) (*MessageStore, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}
	return &MessageStore{db: db, next: make(map[string]uint64)}, nil
}

func roomBounds(room string) (lower, upper []byte) {
	lower = append([]byte(room), 0x00)
	upper = append([]byte(room), 0x01)
	return lower, upper
}

func messageKey(room string, seq uint64) []byte {
	key := make([]byte, 0, len(room)+9)
	key = append(key, room...)
	key = append(key, 0x00)
	return binary.BigEndian.AppendUint64(key, seq)
}

// nextSeq returns the sequence number for the next message of room.
// Callers hold s.mu.
func (s *MessageStore) nextSeq(room string) (uint64, error) {
	if seq, ok := s.next[room]; ok {
		return seq, nil
	}
	lower, upper := roomBounds(room)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	defer func() { _ = it.Close() }()
	var seq uint64
	if it.Last() {
		key := it.Key()
		if len(key) >= 8 {
			seq = binary.BigEndian.Uint64(key[len(key)-8:]) + 1
		}
	}
	return seq, nil
}

// Append stores m at the tail of its room and returns the assigned sequence.
func (s *MessageStore) Append(m Message) (uint64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, err := s.nextSeq(m.Room)
	if err != nil {
		return 0, err
	}
	val, err := json.Marshal(m)
	if err != nil {
		return 0, err
	}
	if err := s.db.Set(messageKey(m.Room, seq), val, pebble.Sync); err != nil {
		return 0, err
	}
	s.next[m.Room] = seq + 1
	return seq, nil
}

// LoadRecent returns up to limit of the newest messages of room,
// oldest-first. limit <= 0 loads everything.
func (s *MessageStore) LoadRecent(room string, limit int) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	lower, upper := roomBounds(room)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	var out []Message
	for ok := it.Last(); ok; ok = it.Prev() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var m Message
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// RoomCounts returns the number of stored messages per room.
func (s *MessageStore) RoomCounts() (map[string]int, error) {
	counts := make(map[string]int)
	if s == nil || s.db == nil {
		return counts, nil
	}
	it, err := s.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()
	for ok := it.First(); ok; ok = it.Next() {
		key := it.Key()
		if i := bytes.IndexByte(key, 0x00); i > 0 {
			counts[string(key[:i])]++
		}
	}
	return counts, nil
}

func (s *MessageStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
