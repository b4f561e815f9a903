package migration

import "github.com/DSLAM-UMD/BullFrog/pkg/bitmap"

// Row is what the decision routine needs from a scanned tuple: whether
// the slot is backed by a heap row at all, and the first three attributes
// as unsigned keys.
type Row interface {
	Empty() bool
	MigrationKey() (k1, k2, k3 uint32)
}

// MigrateTuple decides whether the caller may use a scanned tuple right
// now. It may claim the row for this worker (forcing a synchronous
// micro-migration by the caller), or defer to an in-flight copier and
// record the row for a later revisit. The only blocking point is one
// short partition-lock critical section inside Directory.Claim.
//
// The fast paths read the bitmap word without taking the partition lock;
// a stale read is fine because every transition is re-verified under the
// lock before the claim.
func (s *Session) MigrateTuple(row Row) bool {
	if row == nil || row.Empty() {
		return true // vacuously usable, the caller short-circuits empty slots
	}
	k1, k2, k3 := row.MigrationKey()
	eid := s.campaign.Eid(k1, k2, k3)

	// Sampled once: only the local-delete branches consult it, to avoid
	// touching an empty tracking table outside a copy procedure.
	tracked := 0
	if s.campaign.InCopyProc() {
		tracked = s.TrackingSize()
	}

	if contains(s.inProg0, eid) {
		return true // this worker already owns the row
	}
	if contains(s.inProg1, eid) {
		// Known in flight elsewhere. Once the owner finishes, drop the
		// revisit request so the driver's pass loop can drain; until
		// then keep asking for another pass.
		if bitmap.GetBit(s.campaign.dir.Word(eid), bitmap.MigrateBit(eid)) {
			if tracked > 0 {
				s.Untrack(eid)
			}
			return false
		}
		if s.campaign.InCopyProc() {
			s.Track(eid)
		}
		return false
	}

	word := s.campaign.dir.Word(eid)
	if bitmap.GetBit(word, bitmap.MigrateBit(eid)) {
		if tracked > 0 {
			s.Untrack(eid)
		}
		return false // nothing to do for this tuple
	}
	if bitmap.GetBit(word, bitmap.LockBit(eid)) {
		s.appendDeferred(eid)
		return false
	}

	// Slow path: try to claim under the partition lock.
	switch s.campaign.dir.Claim(eid) {
	case bitmap.Claimed:
		s.appendClaimed(eid)
		return true
	case bitmap.AlreadyLocked:
		s.appendDeferred(eid)
		return false
	default: // bitmap.AlreadyMigrated
		if tracked > 0 {
			s.Untrack(eid)
		}
		return false
	}
}
