package main

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble/v2"
	json "github.com/goccy/go-json"
)

// messageStore persists room history in a PebbleDB key-value store. Keys are
// the room ID, a zero byte, then an 8-byte big-endian sequence number, so one
// room's records sort contiguously in append order.
type messageStore struct {
	db   *pebble.DB
	mu   sync.Mutex
	next map[string]uint64
}

func openMessageStore(dir string) (*messageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &messageStore{db: db, next: make(map[string]uint64)}, nil
}

func roomBounds(roomID string) (lower, upper []byte) {
	lower = append([]byte(roomID), 0x00)
	upper = append([]byte(roomID), 0x01)
	return lower, upper
}

func roomKey(roomID string, seq uint64) []byte {
	key := make([]byte, 0, len(roomID)+9)
	key = append(key, roomID...)
	key = append(key, 0x00)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(key, buf[:]...)
}

// seqLocked returns the next sequence number for a room, discovering it from
// the last stored key on first use after open.
func (s *messageStore) seqLocked(roomID string) (uint64, error) {
	if n, ok := s.next[roomID]; ok {
		s.next[roomID] = n + 1
		return n, nil
	}
	lower, upper := roomBounds(roomID)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	defer func() { _ = it.Close() }()
	var n uint64
	if it.Last() && len(it.Key()) >= len(lower)+8 {
		n = binary.BigEndian.Uint64(it.Key()[len(lower):]) + 1
	}
	s.next[roomID] = n + 1
	return n, nil
}

func (s *messageStore) Append(roomID string, rec wireRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, err := s.seqLocked(roomID)
	if err != nil {
		return err
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Set(roomKey(roomID, seq), val, pebble.Sync)
}

// LoadRoom returns a room's records in append order as raw JSON values.
func (s *messageStore) LoadRoom(roomID string) ([]json.RawMessage, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	lower, upper := roomBounds(roomID)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()
	out := make([]json.RawMessage, 0, 64)
	for it.First(); it.Valid(); it.Next() {
		val := make([]byte, len(it.Value()))
		copy(val, it.Value())
		out = append(out, val)
	}
	return out, nil
}

func (s *messageStore) DeleteRoom(roomID string) error {
	if s == nil || s.db == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.next, roomID)
	lower, upper := roomBounds(roomID)
	return s.db.DeleteRange(lower, upper, pebble.Sync)
}

func (s *messageStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
