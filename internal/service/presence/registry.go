// Package presence tracks which live connections currently represent an
// identity or a room.
package presence

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/samber/lo"
)

const shardCount = 64

// Handle identifies one live connection.
type Handle string

type (
	// Registry maps a key (identity or room id) to its set of live handles.
	// A key is present only while its set is non-empty. Keys are spread over
	// independently locked shards so unrelated keys never contend.
	Registry struct {
		shards [shardCount]*shard
	}

	shard struct {
		mu      sync.RWMutex
		members map[string]map[Handle]struct{}
	}
)

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{members: make(map[string]map[Handle]struct{})}
	}
	return r
}

func (r *Registry) shardFor(key string) *shard {
	return r.shards[xxhash.Sum64String(key)%shardCount]
}

// Join adds h to key's set. Joining twice is a no-op.
func (r *Registry) Join(key string, h Handle) {
	s := r.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.members[key]
	if !ok {
		set = make(map[Handle]struct{})
		s.members[key] = set
	}
	set[h] = struct{}{}
}

// Leave removes h from key's set and prunes the key once the set is empty.
// It reports whether h was a member.
func (r *Registry) Leave(key string, h Handle) bool {
	s := r.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.members[key]
	if !ok {
		return false
	}
	if _, ok := set[h]; !ok {
		return false
	}
	delete(set, h)
	if len(set) == 0 {
		delete(s.members, key)
	}
	return true
}

// Resolve returns a sorted snapshot of the handles joined under key. The
// snapshot is safe to iterate while other connections join or leave.
func (r *Registry) Resolve(key string) []Handle {
	s := r.shardFor(key)
	s.mu.RLock()
	handles := lo.Keys(s.members[key])
	s.mu.RUnlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

func (r *Registry) Contains(key string, h Handle) bool {
	s := r.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.members[key][h]
	return ok
}

// Keys returns the number of keys with at least one live connection.
func (r *Registry) Keys() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.members)
		s.mu.RUnlock()
	}
	return n
}
