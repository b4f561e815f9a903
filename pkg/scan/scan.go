// Package scan integrates the migration decision protocol into the
// executor's per-tuple loop. The scanner wraps an access method and
// applies qualification and projection the way the generic relation scan
// does; when the campaign is active it additionally runs the decision
// routine on every candidate tuple and only lets usable tuples flow to
// the caller.
package scan

import (
	"context"

	"github.com/DSLAM-UMD/BullFrog/pkg/migration"
	"github.com/pingcap/errors"
)

// Tuple is a scanned row. The first three attributes are the composite
// business key as unsigned 32-bit values.
type Tuple struct {
	Values []any
}

// Empty reports whether the slot has no backing heap row.
func (t *Tuple) Empty() bool {
	return t == nil || len(t.Values) == 0
}

// MigrationKey reads the first three attributes as unsigned keys.
func (t *Tuple) MigrationKey() (k1, k2, k3 uint32) {
	return t.attr(0), t.attr(1), t.attr(2)
}

func (t *Tuple) attr(i int) uint32 {
	switch v := t.Values[i].(type) {
	case uint32:
		return v
	case int32:
		return uint32(v)
	case int:
		return uint32(v)
	case int64:
		return uint32(v)
	case uint64:
		return uint32(v)
	default:
		panic(errors.Errorf("key attribute %d has non-integer type %T", i, v))
	}
}

// AccessFunc is the access method: it returns the next tuple from the
// relation, or an empty tuple when the scan is exhausted.
type AccessFunc func(ctx context.Context) (*Tuple, error)

// QualFunc checks a tuple against the qual clause.
type QualFunc func(*Tuple) bool

// ProjectFunc forms the projection tuple.
type ProjectFunc func(*Tuple) *Tuple

// Scanner returns the next qualifying tuple from the access method. When
// the campaign's scan protocol is on, tuples the decision routine defers
// are skipped and the loop continues with the next source tuple.
type Scanner struct {
	access   AccessFunc
	qual     QualFunc
	project  ProjectFunc
	campaign *migration.Campaign
	session  *migration.Session
}

// NewScanner builds a scanner for one query's scan of the source table.
// qual and project may be nil, in which case the raw tuple is returned.
func NewScanner(campaign *migration.Campaign, session *migration.Session, access AccessFunc, qual QualFunc, project ProjectFunc) (*Scanner, error) {
	if campaign == nil || session == nil {
		return nil, errors.New("campaign and session must be non-nil")
	}
	if access == nil {
		return nil, errors.New("access method must be non-nil")
	}
	return &Scanner{
		access:   access,
		qual:     qual,
		project:  project,
		campaign: campaign,
		session:  session,
	}, nil
}

func (s *Scanner) projected(t *Tuple) *Tuple {
	if s.project != nil {
		return s.project(t)
	}
	return t
}

// Next fetches tuples until one qualifies and, with the protocol on, is
// usable now. Cancellation is checked once per fetched tuple, matching
// the plain scan path. An empty tuple means the scan is exhausted.
func (s *Scanner) Next(ctx context.Context) (*Tuple, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tuple, err := s.access(ctx)
		if err != nil {
			return nil, err
		}
		if tuple.Empty() {
			return tuple, nil
		}
		if s.qual != nil && !s.qual(tuple) {
			continue
		}
		if !s.campaign.ScanMigrationEnabled() {
			return s.projected(tuple), nil
		}
		if s.session.MigrateTuple(tuple) {
			s.campaign.AddMigratedTuple()
			return s.projected(tuple), nil
		}
		// Deferred to an in-flight copier; move on to the next tuple.
	}
}
