package kademlia

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contactWithID(last byte) Contact {
	var id ID
	id[IDLength-1] = last
	return Contact{ID: id, IP: net.IPv4(127, 0, 0, byte(last)).To4(), Port: uint16(10000 + int(last))}
}

// TestBucketFillAndEviction fills a bucket to capacity, then verifies that
// a new contact puts the least-recently-seen live contact on probe instead
// of being dropped, and that the probed contact answering before its
// deadline restores it to live with the pending swap cleared.
func TestBucketFillAndEviction(t *testing.T) {
	b := newBucket(3)
	now := time.Unix(0, 0)

	c1, c2, c3, c4 := contactWithID(1), contactWithID(2), contactWithID(3), contactWithID(4)

	_, ok := b.update(c1, now, 10*time.Second)
	assert.False(t, ok)
	_, ok = b.update(c2, now, 10*time.Second)
	assert.False(t, ok)
	_, ok = b.update(c3, now, 10*time.Second)
	assert.False(t, ok)

	require.Len(t, b.live, 3)
	assert.True(t, b.live[0].ID.Equal(c1.ID))
	assert.True(t, b.live[1].ID.Equal(c2.ID))
	assert.True(t, b.live[2].ID.Equal(c3.ID))

	victim, ok := b.update(c4, now, 10*time.Second)
	require.True(t, ok)
	assert.True(t, victim.ID.Equal(c1.ID))

	require.Len(t, b.live, 2)
	assert.True(t, b.live[0].ID.Equal(c2.ID))
	assert.True(t, b.live[1].ID.Equal(c3.ID))
	require.Len(t, b.pending, 1)
	assert.True(t, b.pending[0].victim.ID.Equal(c1.ID))
	assert.True(t, b.pending[0].addition.ID.Equal(c4.ID))

	// The evictee answers before the probe times out.
	_, ok = b.update(c1, now, 10*time.Second)
	assert.False(t, ok)
	require.Len(t, b.live, 3)
	assert.True(t, b.live[2].ID.Equal(c1.ID))
	assert.Empty(t, b.pending)
}

// TestPendingQueueFull verifies that once live and pending together reach
// capacity, a further new contact is dropped rather than queued: nothing
// displaces an already-outstanding probe.
func TestPendingQueueFull(t *testing.T) {
	b := newBucket(3)
	now := time.Unix(0, 0)

	ids := []byte{1, 2, 3, 4, 5, 6}
	for _, id := range ids {
		b.update(contactWithID(id), now, 10*time.Second)
	}

	assert.Empty(t, b.live)
	require.Len(t, b.pending, 3)

	c7 := contactWithID(7)
	_, ok := b.update(c7, now, 10*time.Second)
	assert.False(t, ok)
	assert.Empty(t, b.live)
	assert.Len(t, b.pending, 3)
}

// TestProbeTimeoutPromotion verifies that only the pending swaps whose
// deadline has actually passed are promoted, not the whole queue.
func TestProbeTimeoutPromotion(t *testing.T) {
	b := newBucket(3)
	start := time.Unix(0, 0)
	ttl := 100 * time.Millisecond

	// Fill live with c1..c3, then push three more contacts at increasing
	// "now" values so their probe deadlines are staggered.
	for _, id := range []byte{1, 2, 3} {
		b.update(contactWithID(id), start, ttl)
	}
	var victims []Contact
	for i, id := range []byte{4, 5, 6} {
		now := start.Add(time.Duration(i*10) * time.Millisecond)
		victim, ok := b.update(contactWithID(id), now, ttl)
		require.True(t, ok)
		victims = append(victims, victim)
	}
	require.Empty(t, b.live)
	require.Len(t, b.pending, 3)

	// First pending deadline is start+100ms, second start+110ms, third
	// start+120ms. Sleep past the second but before the third.
	mid := start.Add(115 * time.Millisecond)
	b.expire(mid)

	assert.Len(t, b.live, 2)
	assert.Len(t, b.pending, 1)
	assert.True(t, b.pending[0].victim.ID.Equal(victims[2].ID))
}

// TestIdentityPreservation verifies that the original contact's address
// wins over a same-id contact with a different address.
func TestIdentityPreservation(t *testing.T) {
	b := newBucket(3)
	now := time.Unix(0, 0)

	var id ID
	id[0] = 0x42
	c1 := Contact{ID: id, IP: net.IPv4(1, 1, 1, 1).To4(), Port: 1111}
	b.update(c1, now, 10*time.Second)

	c1p := Contact{ID: id, IP: net.IPv4(2, 2, 2, 2).To4(), Port: 2222}
	_, ok := b.update(c1p, now.Add(time.Second), 10*time.Second)
	assert.False(t, ok)

	require.Len(t, b.live, 1)
	assert.Equal(t, uint16(1111), b.live[0].Port)
	assert.True(t, b.live[0].IP.Equal(net.IPv4(1, 1, 1, 1)))
}

func TestOnProbeTimeoutEagerlyPromotes(t *testing.T) {
	b := newBucket(1)
	now := time.Unix(0, 0)

	c1 := contactWithID(1)
	b.update(c1, now, 10*time.Second)

	c2 := contactWithID(2)
	victim, ok := b.update(c2, now, 10*time.Second)
	require.True(t, ok)
	require.True(t, victim.ID.Equal(c1.ID))

	b.onProbeTimeout(c1.ID)
	require.Len(t, b.live, 1)
	assert.True(t, b.live[0].ID.Equal(c2.ID))
	assert.Empty(t, b.pending)
}

func TestBucketCandidatesIncludesPendingAdditions(t *testing.T) {
	b := newBucket(1)
	now := time.Unix(0, 0)

	c1 := contactWithID(1)
	b.update(c1, now, 10*time.Second)
	c2 := contactWithID(2)
	b.update(c2, now, 10*time.Second)

	// c1 is now the pending victim and c2 its pending addition; live is
	// empty, so the only candidate is the pending addition.
	cands := b.candidates()
	require.Len(t, cands, 1)
}
