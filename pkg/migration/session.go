package migration

import "fmt"

// Session is the per-worker protocol state: the two deferral lists and
// the tracking table. A session is owned by exactly one worker (a
// foreground query's scan, or one invocation of a copy procedure) and is
// never shared, so none of its state is synchronized. It is released
// with the worker's session memory.
type Session struct {
	campaign *Campaign
	workerID int

	// inProg0 holds eids this worker claimed: it observed the lock bit
	// transition 0->1 and must finish their copy.
	// inProg1 holds eids observed locked by another worker at some past
	// point; this worker revisits them via the tracking table.
	// Both are append-only for the session's lifetime and preserve
	// insertion order. Lookup is a linear scan; cardinality per query is
	// expected to be small.
	inProg0 []uint32
	inProg1 []uint32

	// tracking holds eids with pending work observed during this
	// session. The copy driver uses its size as the "more passes
	// required" condition.
	tracking map[uint32]struct{}
}

// NewSession creates the per-worker state for workerID.
func (c *Campaign) NewSession(workerID int) *Session {
	return &Session{
		campaign: c,
		workerID: workerID,
		tracking: make(map[uint32]struct{}),
	}
}

// WorkerID returns the worker this session belongs to.
func (s *Session) WorkerID() int {
	return s.workerID
}

func contains(list []uint32, eid uint32) bool {
	for _, e := range list {
		if e == eid {
			return true
		}
	}
	return false
}

// appendClaimed records an eid this worker now owns. An eid can never be
// in both deferral lists; that would mean the worker both owns the row
// and observed another owner.
func (s *Session) appendClaimed(eid uint32) {
	if contains(s.inProg1, eid) {
		panic(fmt.Sprintf("eid %d already deferred as in-flight elsewhere", eid))
	}
	s.inProg0 = append(s.inProg0, eid)
}

// appendDeferred records an eid observed locked by another worker.
func (s *Session) appendDeferred(eid uint32) {
	if contains(s.inProg0, eid) {
		panic(fmt.Sprintf("eid %d already claimed by this worker", eid))
	}
	s.inProg1 = append(s.inProg1, eid)
}

// Claimed returns the eids this worker has claimed, in claim order.
func (s *Session) Claimed() []uint32 {
	return s.inProg0
}

// Deferred returns the eids observed in flight elsewhere, in order.
func (s *Session) Deferred() []uint32 {
	return s.inProg1
}

// Track inserts an eid into the tracking table.
func (s *Session) Track(eid uint32) {
	s.tracking[eid] = struct{}{}
}

// Untrack removes an eid from the tracking table.
func (s *Session) Untrack(eid uint32) {
	delete(s.tracking, eid)
}

// TrackingSize returns the number of eids pending another pass.
func (s *Session) TrackingSize() int {
	return len(s.tracking)
}

// CompleteClaimed marks every eid this worker claimed as migrated, once
// the projection inserts for those rows are part of the surrounding
// transaction. The transition is monotonic, so repeating it after later
// passes is harmless. Tracking entries for completed eids are dropped.
func (s *Session) CompleteClaimed() {
	dir := s.campaign.dir
	for _, eid := range s.inProg0 {
		if !dir.Migrated(eid) {
			dir.SetMigrated(eid)
		}
		s.Untrack(eid)
	}
}
