package kademlia

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RoutingTable is a node identity (Self) plus NumBuckets k-buckets. Self is
// chosen once at construction and is immutable thereafter.
type RoutingTable struct {
	Self ID

	mu       sync.RWMutex
	buckets  [NumBuckets]*bucket
	clock    Clock
	probeTTL time.Duration
	log      *logrus.Entry
}

// NewRoutingTable creates a routing table for self with k-sized buckets
// using the given probe TTL and clock. A nil clock defaults to the real
// monotonic clock; a nil logger discards log output.
func NewRoutingTable(self ID, k int, probeTTL time.Duration, clock Clock, log *logrus.Entry) *RoutingTable {
	if k <= 0 {
		k = DefaultBucketSize
	}
	if probeTTL <= 0 {
		probeTTL = DefaultProbeTTL
	}
	if clock == nil {
		clock = MonotonicClock{}
	}
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = logrus.NewEntry(discard)
	}
	rt := &RoutingTable{
		Self:     self,
		clock:    clock,
		probeTTL: probeTTL,
		log:      log.WithField("self", self.String()[:8]),
	}
	for i := range rt.buckets {
		rt.buckets[i] = newBucket(k)
	}
	return rt
}

// bucketIndexFor returns the bucket index that id belongs in relative to
// Self. Callers must not pass Self itself.
func (rt *RoutingTable) bucketIndexFor(id ID) int {
	return BucketIndex(Xor(rt.Self, id))
}

// Update folds a freshly-observed contact into its bucket. It returns
// (victim, true) when the caller must send a PING to victim and later call
// OnProbeReply or OnProbeTimeout; otherwise it returns (Contact{}, false).
// Contacts whose id equals Self are ignored: routing never stores a
// self-loop.
func (rt *RoutingTable) Update(c Contact) (Contact, bool) {
	if c.ID.Equal(rt.Self) {
		return Contact{}, false
	}
	idx := rt.bucketIndexFor(c.ID)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	victim, ok := rt.buckets[idx].update(c, rt.clock.Now(), rt.probeTTL)
	if ok {
		rt.log.WithFields(logrus.Fields{
			"bucket": idx,
			"victim": victim.ID.String()[:8],
			"new":    c.ID.String()[:8],
		}).Debug("bucket full, probing least-recently-seen contact")
	}
	return victim, ok
}

// OnProbeReply records that a probed victim answered before eviction
// completed: it is equivalent to Update(contact), which restores it to
// live and drops the pending replacement.
func (rt *RoutingTable) OnProbeReply(contact Contact) {
	rt.Update(contact)
}

// OnProbeTimeout eagerly evicts a victim whose probe is known to have
// failed, without waiting for Tick/the next Update to notice the deadline
// has passed.
func (rt *RoutingTable) OnProbeTimeout(contact Contact) {
	if contact.ID.Equal(rt.Self) {
		return
	}
	idx := rt.bucketIndexFor(contact.ID)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.buckets[idx].onProbeTimeout(contact.ID)
}

// Tick expires every bucket's stale pending probes against the current
// time, promoting addition records whose deadline has passed. Exposed so a
// caller can force promotion even on buckets that haven't seen a fresh
// Update since the deadline elapsed.
func (rt *RoutingTable) Tick() {
	now := rt.clock.Now()
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, b := range rt.buckets {
		b.expire(now)
	}
}

// candidateEntry pairs a contact with its precomputed distance to the
// lookup target, avoiding repeated XORs during the sort.
type candidateEntry struct {
	contact  Contact
	distance ID
}

// Closest returns up to k contacts ordered by ascending XOR distance to
// target, expanding outward symmetrically from target's own bucket across
// the routing table until k candidates have been gathered or every bucket
// has been visited.
func (rt *RoutingTable) Closest(target ID, k int) []Contact {
	idx := rt.bucketIndexFor2(target)

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	var candidates []candidateEntry
	collect := func(bi int) {
		for _, c := range rt.buckets[bi].candidates() {
			candidates = append(candidates, candidateEntry{
				contact:  c,
				distance: Xor(c.ID, target),
			})
		}
	}

	collect(idx)
	for i := 1; len(candidates) < k && (idx-i >= 0 || idx+i < NumBuckets); i++ {
		if idx-i >= 0 {
			collect(idx - i)
		}
		if idx+i < NumBuckets {
			collect(idx + i)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].distance.Less(candidates[j].distance)
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]Contact, k)
	for i := 0; i < k; i++ {
		out[i] = candidates[i].contact
	}
	return out
}

// bucketIndexFor2 is BucketIndex(Xor(Self, target)) but maps the undefined
// zero-distance case (target == Self) to bucket 0.
func (rt *RoutingTable) bucketIndexFor2(target ID) int {
	if target.Equal(rt.Self) {
		return 0
	}
	return rt.bucketIndexFor(target)
}

// Snapshot returns every live contact across all buckets, regardless of
// distance to any target. Used for status reporting and tests that need
// the whole known peer set.
func (rt *RoutingTable) Snapshot() []Contact {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var out []Contact
	for _, b := range rt.buckets {
		out = append(out, b.live...)
	}
	return out
}
