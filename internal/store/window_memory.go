package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/serroba/window-limiter/internal/ratelimit"
)

type orderedSet struct {
	// members doubles as scores; kept sorted ascending.
	members   []int64
	expiresAt time.Time
}

// MemoryWindowStore is an in-memory implementation of ratelimit.Store.
// A single mutex serializes batches, so it is atomic within one process but
// its sets are not shared across replicas.
type MemoryWindowStore struct {
	mu   sync.Mutex
	sets map[string]*orderedSet
	now  func() time.Time
}

// NewMemoryWindowStore creates a new in-memory rate limit store.
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{
		sets: make(map[string]*orderedSet),
		now:  time.Now,
	}
}

func (s *MemoryWindowStore) SubmitWindow(_ context.Context, batch ratelimit.WindowBatch) (ratelimit.WindowReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	set, ok := s.sets[batch.Key]
	if !ok || !now.Before(set.expiresAt) {
		set = &orderedSet{}
		s.sets[batch.Key] = set
	}

	cut, _ := slices.BinarySearch(set.members, batch.PruneBefore)
	set.members = set.members[cut:]

	reply := ratelimit.WindowReply{Count: int64(len(set.members))}

	if pos, found := slices.BinarySearch(set.members, batch.Member); !found {
		set.members = slices.Insert(set.members, pos, batch.Member)
	}

	if batch.WantOldest {
		reply.Oldest = set.members[0]
		reply.HasOldest = true
	}

	set.expiresAt = now.Add(batch.TTL.Truncate(time.Millisecond))

	return reply, nil
}

// Len reports how many keys the store holds, including expired keys that
// have not been evicted yet.
func (s *MemoryWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sets)
}

// Evict drops every expired key. Expired keys are otherwise only replaced
// when touched again.
func (s *MemoryWindowStore) Evict() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked(s.now())
}

func (s *MemoryWindowStore) evictLocked(now time.Time) {
	for key, set := range s.sets {
		if !now.Before(set.expiresAt) {
			delete(s.sets, key)
		}
	}
}

// StartEviction calls Evict every interval until the returned Evictor is
// shut down.
func (s *MemoryWindowStore) StartEviction(interval time.Duration) *Evictor {
	return startEvictor(interval, func(context.Context) { s.Evict() })
}

var _ ratelimit.Store = (*MemoryWindowStore)(nil)
