package stormpot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSlotStartsDead(t *testing.T) {
	s := newSlot[int]("owner")
	require.Equal(t, slotDead, s.currentState())
}

func TestPublishTransitionsDeadToLiveAndResetsBookkeeping(t *testing.T) {
	s := newSlot[int]("owner")
	s.claim() // no-op, still DEAD
	s.publish(42, 1000)

	require.Equal(t, slotLive, s.currentState())
	assert.Equal(t, 42, s.object())
	assert.Equal(t, int64(0), s.ClaimCount())
	assert.Equal(t, int64(0), s.AgeMillis(1000))
	assert.Equal(t, int64(500), s.AgeMillis(1500))
}

func TestPublishFromNonDeadPanics(t *testing.T) {
	s := newSlot[int]("owner")
	s.publish(1, 0)
	assert.Panics(t, func() { s.publish(2, 0) })
}

func TestClaimIsAtMostOnce(t *testing.T) {
	s := newSlot[int]("owner")
	s.publish(1, 0)

	const n = 50
	wins := 0
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() { results <- s.claim() }()
	}
	for i := 0; i < n; i++ {
		if <-results {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one goroutine should win the claim race")
}

func TestReleaseLiveAndReleaseDead(t *testing.T) {
	s := newSlot[int]("owner")
	s.publish(1, 0)
	require.True(t, s.claim())

	require.True(t, s.releaseLive())
	require.Equal(t, slotLive, s.currentState())

	require.True(t, s.claim())
	require.True(t, s.releaseDead())
	require.Equal(t, slotDead, s.currentState())

	// the object must still be retrievable for deallocation after
	// releaseDead — it is not zeroed on the CLAIMED->DEAD transition.
	obj, ok := s.takeObjectForDeallocation()
	require.True(t, ok)
	assert.Equal(t, 1, obj)

	_, ok = s.takeObjectForDeallocation()
	assert.False(t, ok, "object must only be handed back once")
}

func TestKillLiveAndTombstone(t *testing.T) {
	s := newSlot[int]("owner")
	s.publish(1, 0)

	require.True(t, s.killLive())
	require.Equal(t, slotDead, s.currentState())

	_, ok := s.takeObjectForDeallocation()
	require.True(t, ok)

	require.True(t, s.tombstone())
	require.Equal(t, slotTombstone, s.currentState())
	assert.False(t, s.tombstone(), "tombstone must not succeed twice")
}

func TestAllocErrorRoundTrip(t *testing.T) {
	s := newSlot[int]("owner")
	assert.Nil(t, s.takeAllocError())

	boom := assert.AnError
	s.recordAllocError(boom)
	assert.Equal(t, boom, s.takeAllocError())
	assert.Nil(t, s.takeAllocError(), "takeAllocError clears the error")
}
