package kademlia

import (
	"sync"
	"time"
)

// NeverExpire is the sentinel TTL meaning an entry should never expire.
const NeverExpire time.Duration = -1

// entry is a stored value with an optional absolute expiry. A zero
// expiresAt means the entry never expires.
type entry struct {
	value     []byte
	expiresAt time.Time // zero value means never expires
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && e.expiresAt.Before(now)
}

// Store is a mapping from ID to opaque byte-string value with optional
// per-entry absolute expiry, ported from the original KeyValueStore /
// Value pair: Value.expiration held -1 for "never"; here a zero time.Time
// plays the same role so callers don't need a sentinel Duration everywhere
// except at the Set/Put boundary.
//
// Readers may run concurrently; writers are exclusive.
type Store struct {
	mu         sync.RWMutex
	entries    map[ID]entry
	defaultTTL time.Duration
	clock      Clock
}

// NewStore creates a Store whose Put uses defaultTTL (NeverExpire for "no
// expiry by default") and whose deadlines are computed from clock.
func NewStore(defaultTTL time.Duration, clock Clock) *Store {
	if clock == nil {
		clock = MonotonicClock{}
	}
	return &Store{
		entries:    make(map[ID]entry),
		defaultTTL: defaultTTL,
		clock:      clock,
	}
}

// Set stores value under key. A ttl of NeverExpire means the entry never
// expires; any other ttl sets expiresAt = now + ttl. Set overwrites any
// existing entry, including an expired one.
func (s *Store) Set(key ID, value []byte, ttl time.Duration) {
	v := make([]byte, len(value))
	copy(v, value)

	e := entry{value: v}
	if ttl != NeverExpire {
		e.expiresAt = s.clock.Now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

// Put stores value under key using the store's default TTL.
func (s *Store) Put(key ID, value []byte) {
	s.Set(key, value, s.defaultTTL)
}

// Contains reports whether key is present and not expired.
func (s *Store) Contains(key ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	return !e.expired(s.clock.Now())
}

// Get returns the value stored under key and true, or (nil, false) if the
// key is absent or expired. Get and Contains always agree.
func (s *Store) Get(key ID) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || e.expired(s.clock.Now()) {
		return nil, false
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

// Sweep removes every expired entry and returns the number removed. Safe to
// call concurrently with reads and writes.
func (s *Store) Sweep() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Stats reports the number of live (present, unexpired) and expired-but-not
// -yet-swept entries, without mutating the store.
func (s *Store) Stats() (live, expired int) {
	now := s.clock.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.expired(now) {
			expired++
		} else {
			live++
		}
	}
	return live, expired
}
