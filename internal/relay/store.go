// Package relay stores and serves the latest alignment payload per room.
//
// Devices PUT their payload to /spaces/{room} and peers GET it back. The
// relay keeps the last write and a short history; it never merges or
// orders payloads.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/spaceshare/internal/timeutil"
)

// DefaultHistoryLimit is how many payloads per room a store keeps.
const DefaultHistoryLimit = 50

// ErrNotFound is returned when a room has no stored payload.
var ErrNotFound = errors.New("no payload stored for room")

// Record is one stored payload.
type Record struct {
	Room     string
	DeviceID string
	Body     []byte
	StoredAt time.Time
}

// Store persists payloads by room. The most recent Put wins.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, room string) (Record, error)
	// History returns up to limit records for room, newest first.
	History(ctx context.Context, room string, limit int) ([]Record, error)
	Close() error
}

// MemoryStore keeps payloads in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	limit int
	rooms map[string][]Record
}

// NewMemoryStore returns an empty store keeping at most limit records per
// room. A non-positive limit uses DefaultHistoryLimit.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &MemoryStore{limit: limit, rooms: make(map[string][]Record)}
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	rec.Body = append([]byte(nil), rec.Body...)
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := append(s.rooms[rec.Room], rec)
	if len(recs) > s.limit {
		recs = append([]Record(nil), recs[len(recs)-s.limit:]...)
	}
	s.rooms[rec.Room] = recs
	return nil
}

func (s *MemoryStore) Get(_ context.Context, room string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.rooms[room]
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[len(recs)-1], nil
}

func (s *MemoryStore) History(_ context.Context, room string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.rooms[room]
	if limit <= 0 || limit > len(recs) {
		limit = len(recs)
	}
	out := make([]Record, 0, limit)
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, recs[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// stamp fills StoredAt from clock when it is unset.
func stamp(rec Record, clock timeutil.Clock) Record {
	if rec.StoredAt.IsZero() {
		rec.StoredAt = clock.Now()
	}
	return rec
}
