package kademlia

import (
	"time"
)

// DefaultBucketSize is K, the default maximum number of live contacts a
// bucket holds.
const DefaultBucketSize = 20

// DefaultProbeTTL is the default deadline given to a probe of a
// least-recently-seen contact before its replacement is promoted.
const DefaultProbeTTL = 10 * time.Second

// pendingSwap couples a candidate eviction with its replacement: victim is
// the least-recently-seen live contact being probed, addition is the new
// contact waiting to take its slot, and deadline is when the probe is
// considered to have failed. Keeping victim and addition in one record
// instead of two parallel queues means there is always exactly one entry
// per in-flight probe, so the two halves can never drift out of sync.
type pendingSwap struct {
	victim   Contact
	addition Contact
	deadline time.Time
}

// bucket holds up to k live contacts ordered by last-seen ascending (head =
// least-recently-seen), plus the pending probe-before-evict queue.
//
// Invariants:
//   - len(live) + len(pending) <= k
//   - no two contacts across live and pending (victim or addition) share a
//     node id
//   - live is ordered by LastSeen ascending
type bucket struct {
	k       int
	live    []Contact
	pending []pendingSwap
}

func newBucket(k int) *bucket {
	return &bucket{k: k}
}

func (b *bucket) len() int {
	return len(b.live) + len(b.pending)
}

func (b *bucket) findLive(id ID) int {
	for i, c := range b.live {
		if c.ID.Equal(id) {
			return i
		}
	}
	return -1
}

func (b *bucket) findPendingAddition(id ID) int {
	for i, p := range b.pending {
		if p.addition.ID.Equal(id) {
			return i
		}
	}
	return -1
}

func (b *bucket) findPendingVictim(id ID) int {
	for i, p := range b.pending {
		if p.victim.ID.Equal(id) {
			return i
		}
	}
	return -1
}

// insertLive inserts c into live after every contact whose LastSeen is not
// later than c's, keeping live ordered by LastSeen ascending (stable for
// equal timestamps).
func (b *bucket) insertLive(c Contact) {
	i := len(b.live)
	for i > 0 && b.live[i-1].LastSeen.After(c.LastSeen) {
		i--
	}
	b.live = append(b.live, Contact{})
	copy(b.live[i+1:], b.live[i:])
	b.live[i] = c
}

// expire promotes every pending swap whose deadline has passed: the victim
// is dropped and the addition is inserted into live at the position its
// LastSeen calls for. Promotions happen in queue order.
func (b *bucket) expire(now time.Time) {
	if len(b.pending) == 0 {
		return
	}
	kept := b.pending[:0]
	for _, p := range b.pending {
		if !p.deadline.After(now) {
			b.insertLive(p.addition)
		} else {
			kept = append(kept, p)
		}
	}
	b.pending = kept
}

// removePendingAt drops pending[i] and promotes its addition into live
// immediately, used by an eager on_probe_timeout implementation.
func (b *bucket) removePendingAt(i int) {
	p := b.pending[i]
	b.pending = append(b.pending[:i], b.pending[i+1:]...)
	b.insertLive(p.addition)
}

// update folds a single observed contact into the bucket, using probeTTL as
// the deadline for any new eviction probe. It returns (victim, true) when
// the caller must probe victim, or (Contact{}, false) when there is no
// follow-up work.
func (b *bucket) update(c Contact, now time.Time, probeTTL time.Duration) (Contact, bool) {
	b.expire(now)

	if i := b.findLive(c.ID); i >= 0 {
		existing := b.live[i]
		existing.LastSeen = now
		b.live = append(b.live[:i], b.live[i+1:]...)
		b.live = append(b.live, existing)
		return Contact{}, false
	}

	if i := b.findPendingAddition(c.ID); i >= 0 {
		b.pending[i].addition.LastSeen = now
		return Contact{}, false
	}

	if i := b.findPendingVictim(c.ID); i >= 0 {
		p := b.pending[i]
		b.pending = append(b.pending[:i], b.pending[i+1:]...)
		restored := p.victim
		restored.LastSeen = now
		b.live = append(b.live, restored)
		return Contact{}, false
	}

	if b.len() < b.k {
		c.LastSeen = now
		b.live = append(b.live, c)
		return Contact{}, false
	}

	if len(b.live) > 0 {
		victim := b.live[0]
		b.live = b.live[1:]
		c.LastSeen = now
		b.pending = append(b.pending, pendingSwap{
			victim:   victim,
			addition: c,
			deadline: now.Add(probeTTL),
		})
		return victim, true
	}

	return Contact{}, false
}

// onProbeTimeout eagerly evicts a victim whose probe deadline hasn't
// technically passed yet but whose caller has independently decided the
// probe failed. It is a no-op if id is not an outstanding victim.
func (b *bucket) onProbeTimeout(id ID) {
	if i := b.findPendingVictim(id); i >= 0 {
		b.removePendingAt(i)
	}
}

// candidates returns every contact this bucket can offer towards a
// closest() query: all live contacts plus every pending addition. A
// pending addition was observed recently enough to be worth offering even
// though its probe hasn't resolved yet.
func (b *bucket) candidates() []Contact {
	out := make([]Contact, 0, len(b.live)+len(b.pending))
	out = append(out, b.live...)
	for _, p := range b.pending {
		out = append(out, p.addition)
	}
	return out
}
