package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeferralLists(t *testing.T) {
	c := newTestCampaign(t)
	s := c.NewSession(0)
	assert.Equal(t, 0, s.WorkerID())

	s.appendClaimed(10)
	s.appendClaimed(5)
	s.appendClaimed(20)
	assert.Equal(t, []uint32{10, 5, 20}, s.Claimed(), "insertion order is preserved")

	s.appendDeferred(7)
	s.appendDeferred(3)
	assert.Equal(t, []uint32{7, 3}, s.Deferred())

	// an eid can never be in both lists
	assert.Panics(t, func() { s.appendDeferred(5) })
	assert.Panics(t, func() { s.appendClaimed(3) })
}

func TestTrackingTable(t *testing.T) {
	c := newTestCampaign(t)
	s := c.NewSession(1)
	assert.Equal(t, 0, s.TrackingSize())
	s.Track(100)
	s.Track(100)
	s.Track(200)
	assert.Equal(t, 2, s.TrackingSize())
	s.Untrack(100)
	assert.Equal(t, 1, s.TrackingSize())
	s.Untrack(100) // absent, no-op
	assert.Equal(t, 1, s.TrackingSize())
}

func TestCompleteClaimed(t *testing.T) {
	c := newTestCampaign(t)
	s := c.NewSession(0)
	dir := c.Directory()

	// claim the way the decision routine does
	for _, eid := range []uint32{1, 2, 3} {
		dir.Claim(eid)
		s.appendClaimed(eid)
		s.Track(eid)
	}
	s.CompleteClaimed()
	for _, eid := range []uint32{1, 2, 3} {
		assert.True(t, dir.Migrated(eid))
		assert.True(t, dir.Locked(eid))
	}
	assert.Equal(t, 0, s.TrackingSize())

	// idempotent
	s.CompleteClaimed()
	assert.True(t, dir.Migrated(2))
}
