package migration

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/DSLAM-UMD/BullFrog/pkg/statement"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRow is one customer row in the in-memory table.
type memRow struct {
	wID, dID, id uint32
	last         string
}

func (r memRow) Empty() bool                            { return false }
func (r memRow) MigrationKey() (uint32, uint32, uint32) { return r.wID, r.dID, r.id }

// memDB is a tiny in-memory stand-in for the customer table and its two
// projections, shared between concurrent executors.
type memDB struct {
	mu     sync.Mutex
	source []memRow
	proj1  []memRow
	proj2  []memRow
}

func (db *memDB) insert(projection string, r memRow) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if projection == "customer_proj1" {
		db.proj1 = append(db.proj1, r)
	} else {
		db.proj2 = append(db.proj2, r)
	}
}

func (db *memDB) countKey(rows []memRow, w, d, id uint32) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, r := range rows {
		if r.wID == w && r.dID == d && r.id == id {
			n++
		}
	}
	return n
}

// memExecutor interprets the generated copy statements against memDB,
// routing every candidate row through the decision routine the way the
// in-engine scan hook does during an INSERT ... SELECT.
type memExecutor struct {
	db      *memDB
	session *Session
}

func (e *memExecutor) Exec(_ context.Context, query string, args ...any) (int64, error) {
	projection := "customer_proj2"
	if strings.Contains(query, "customer_proj1") {
		projection = "customer_proj1"
	}
	match, err := rowPredicate(query, args)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, r := range e.db.source {
		if !match(r) {
			continue
		}
		if e.session.MigrateTuple(r) {
			e.db.insert(projection, r)
			n++
		}
	}
	return n, nil
}

func rowPredicate(query string, args []any) (func(memRow) bool, error) {
	switch {
	case strings.Contains(query, "c_id >= ? AND c_id < ?"):
		w, d, lo, hi := args[0].(int32), args[1].(int32), args[2].(int32), args[3].(int32)
		return func(r memRow) bool {
			return r.wID == uint32(w) && r.dID == uint32(d) && r.id >= uint32(lo) && r.id < uint32(hi)
		}, nil
	case strings.Contains(query, "c_id >= ? AND c_id <= ?"):
		w, d, lo, hi := args[0].(int32), args[1].(int32), args[2].(int32), args[3].(int32)
		return func(r memRow) bool {
			return r.wID == uint32(w) && r.dID == uint32(d) && r.id >= uint32(lo) && r.id <= uint32(hi)
		}, nil
	case strings.Contains(query, "c_last = ?"):
		w, d, last := args[0].(int32), args[1].(int32), args[2].(string)
		return func(r memRow) bool {
			return r.wID == uint32(w) && r.dID == uint32(d) && r.last == last
		}, nil
	case strings.Contains(query, "c_id = ?"):
		w, d, id := args[0].(int32), args[1].(int32), args[2].(int32)
		return func(r memRow) bool {
			return r.wID == uint32(w) && r.dID == uint32(d) && r.id == uint32(id)
		}, nil
	default:
		return nil, errors.Errorf("unrecognized copy statement: %s", query)
	}
}

func TestNewDriverValidation(t *testing.T) {
	c := newTestCampaign(t)
	s := c.NewSession(0)
	exec := &memExecutor{db: &memDB{}, session: s}

	_, err := NewDriver(nil, exec, statement.ProjByID(1, 1, 1), nil)
	assert.Error(t, err)
	_, err = NewDriver(s, nil, statement.ProjByID(1, 1, 1), nil)
	assert.Error(t, err)
	_, err = NewDriver(s, exec, nil, nil)
	assert.Error(t, err)
	_, err = NewDriver(s, exec, []statement.Statement{{Query: "DELETE FROM customer"}}, nil)
	assert.Error(t, err)
}

// Copying one row into both projections: the first statement claims the
// row, the second reuses the claim, and completion sets both bits.
func TestDriverSingleRow(t *testing.T) {
	c := newTestCampaign(t)
	db := &memDB{source: []memRow{{wID: 1, dID: 1, id: 1, last: "BARBARBAR"}}}
	s := c.NewSession(0)
	driver, err := NewDriver(s, &memExecutor{db: db, session: s}, statement.ProjByID(1, 1, 1), nil)
	require.NoError(t, err)
	require.NoError(t, driver.Run(context.Background()))

	assert.Equal(t, 1, db.countKey(db.proj1, 1, 1, 1))
	assert.Equal(t, 1, db.countKey(db.proj2, 1, 1, 1))
	eid := c.Eid(1, 1, 1)
	assert.Equal(t, uint32(33000), eid)
	assert.True(t, c.Directory().Locked(eid))
	assert.True(t, c.Directory().Migrated(eid))
	// no scan path involved, the foreground counter is untouched
	assert.Equal(t, uint64(0), c.TuplesMigrated())
}

// Two workers race on the same row: exactly one wins the claim and the
// projections contain the row exactly once.
func TestDriverConcurrentWorkers(t *testing.T) {
	c := newTestCampaign(t)
	db := &memDB{source: []memRow{{wID: 5, dID: 5, id: 10, last: "OUGHTOUGHT"}}}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	sessions := make([]*Session, 2)
	for w := range 2 {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			s := c.NewSession(w)
			sessions[w] = s
			driver, err := NewDriver(s, &memExecutor{db: db, session: s}, statement.ProjByID(5, 5, 10), &DriverConfig{MaxPasses: 1000})
			if err != nil {
				errs[w] = err
				return
			}
			errs[w] = driver.Run(context.Background())
		}(w)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, 1, db.countKey(db.proj1, 5, 5, 10))
	assert.Equal(t, 1, db.countKey(db.proj2, 5, 5, 10))
	eid := c.Eid(5, 5, 10)
	assert.True(t, c.Directory().Locked(eid))
	assert.True(t, c.Directory().Migrated(eid))

	claims := 0
	for _, s := range sessions {
		if len(s.Claimed()) > 0 {
			claims++
			assert.Equal(t, []uint32{eid}, s.Claimed())
		}
	}
	assert.Equal(t, 1, claims, "exactly one worker claimed the row")
}

// A 300-row range with 100 rows pre-migrated: only the remaining 200 are
// copied, and the driver terminates without extra passes.
func TestDriverRangeWithPreMigratedRows(t *testing.T) {
	c := newTestCampaign(t)
	db := &memDB{}
	for id := uint32(1); id <= 300; id++ {
		db.source = append(db.source, memRow{wID: 0, dID: 0, id: id})
	}
	for id := uint32(1); id <= 100; id++ {
		c.Directory().SetMigrated(c.Eid(0, 0, id))
	}

	s := c.NewSession(0)
	driver, err := NewDriver(s, &memExecutor{db: db, session: s}, statement.ProjRange(0, 0, 1, 301), nil)
	require.NoError(t, err)
	require.NoError(t, driver.Run(context.Background()))

	db.mu.Lock()
	defer db.mu.Unlock()
	assert.Len(t, db.proj1, 200)
	assert.Len(t, db.proj2, 200)
	assert.Equal(t, 0, s.TrackingSize())
	for id := uint32(1); id <= 300; id++ {
		assert.True(t, c.Directory().Migrated(c.Eid(0, 0, id)))
	}
}

// A row held by a worker that never finishes forces the pass cap.
func TestDriverPassLimit(t *testing.T) {
	c := newTestCampaign(t)
	db := &memDB{source: []memRow{{wID: 1, dID: 1, id: 2}}}

	// another worker claims the row and never completes it
	blocker := c.NewSession(9)
	require.True(t, blocker.MigrateTuple(memRow{wID: 1, dID: 1, id: 2}))

	s := c.NewSession(0)
	driver, err := NewDriver(s, &memExecutor{db: db, session: s}, statement.ProjByID(1, 1, 2), &DriverConfig{MaxPasses: 5})
	require.NoError(t, err)
	err = driver.Run(context.Background())
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyPasses)
	assert.Empty(t, db.proj1)
}

// Once the blocker completes, a deferring worker's next run drains its
// tracking table and terminates cleanly.
func TestDriverDrainsAfterOwnerCompletes(t *testing.T) {
	c := newTestCampaign(t)
	db := &memDB{source: []memRow{{wID: 1, dID: 1, id: 3}}}

	blocker := c.NewSession(9)
	require.True(t, blocker.MigrateTuple(memRow{wID: 1, dID: 1, id: 3}))

	s := c.NewSession(0)
	driver, err := NewDriver(s, &memExecutor{db: db, session: s}, statement.ProjByID(1, 1, 3), &DriverConfig{MaxPasses: 3})
	require.NoError(t, err)
	assert.ErrorIs(t, driver.Run(context.Background()), ErrTooManyPasses)

	blocker.CompleteClaimed()
	driver, err = NewDriver(s, &memExecutor{db: db, session: s}, statement.ProjByID(1, 1, 3), &DriverConfig{MaxPasses: 3})
	require.NoError(t, err)
	assert.NoError(t, driver.Run(context.Background()))
	assert.Equal(t, 0, s.TrackingSize())
	// the row was copied by nobody here: the blocker owned it
	assert.Empty(t, db.proj1)
}

type failingExecutor struct{ err error }

func (e *failingExecutor) Exec(context.Context, string, ...any) (int64, error) {
	return 0, e.err
}

// Statement failures surface unchanged.
func TestDriverPropagatesExecError(t *testing.T) {
	c := newTestCampaign(t)
	s := c.NewSession(0)
	boom := errors.New("duplicate entry")
	driver, err := NewDriver(s, &failingExecutor{err: boom}, statement.ProjByID(1, 1, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, boom, driver.Run(context.Background()))
}

func TestDriverContextCancelled(t *testing.T) {
	c := newTestCampaign(t)
	s := c.NewSession(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	driver, err := NewDriver(s, &failingExecutor{err: errors.New("unreached")}, statement.ProjByID(1, 1, 1), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, driver.Run(ctx), context.Canceled)
}
