// Package migration implements the online table-split protocol: a shared
// bitmap directory coordinates foreground scans with background copy
// workers so that the customer table can be decomposed into its two
// projection tables while live traffic continues against the source.
package migration

import (
	"sync/atomic"

	"github.com/DSLAM-UMD/BullFrog/pkg/bitmap"
	"github.com/pingcap/errors"
	"github.com/siddontang/loggers"
	"github.com/sirupsen/logrus"
)

// Defaults for the TPC-C style customer key space. K1 is c_w_id, K2 is
// c_d_id, K3 is c_id. PageSize groups consecutive c_id values into one
// atomically-migrated unit; 1 means per-row granularity.
const (
	DefaultK1Max            = 50
	DefaultK2Max            = 10
	DefaultK3Max            = 3000
	DefaultPageSize         = 1
	DefaultBitmapPartitions = 16
)

// Config sizes a migration campaign. Zero values take the defaults above.
type Config struct {
	K1Max            uint32
	K2Max            uint32
	K3Max            uint32
	PageSize         uint32
	BitmapPartitions int
	Logger           loggers.Advanced
}

// Campaign is the explicit handle for one table-split migration. It owns
// the bitmap directory, the campaign flags and the migrated-tuple
// counter. There are no package-level globals: the scan hook and the
// copy driver both receive the campaign (via a worker Session).
type Campaign struct {
	config Config
	dir    *bitmap.Directory
	logger loggers.Advanced

	// scanMigration is the campaign switch for the foreground protocol.
	// With it off the scan hook is a no-op.
	scanMigration atomic.Bool
	// copyProcs counts procedure invocations currently driving copy
	// passes. While non-zero, deferred rows are recorded in the worker's
	// tracking table so the driver knows another pass is required.
	copyProcs atomic.Int32

	tupleMigrateCount atomic.Uint64

	registry *Registry
}

// NewCampaign allocates the bitmap directory and partition locks sized
// for the configured key space. This is the process-startup step;
// failure here is fatal to the campaign.
func NewCampaign(config Config) (*Campaign, error) {
	if config.K1Max == 0 {
		config.K1Max = DefaultK1Max
	}
	if config.K2Max == 0 {
		config.K2Max = DefaultK2Max
	}
	if config.K3Max == 0 {
		config.K3Max = DefaultK3Max
	}
	if config.PageSize == 0 {
		config.PageSize = DefaultPageSize
	}
	if config.BitmapPartitions == 0 {
		config.BitmapPartitions = DefaultBitmapPartitions
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	pages := (config.K3Max + config.PageSize - 1) / config.PageSize
	space := config.K1Max * config.K2Max * pages
	dir, err := bitmap.NewDirectory(space, config.BitmapPartitions)
	if err != nil {
		return nil, errors.Annotate(err, "could not allocate bitmap directory")
	}
	c := &Campaign{
		config:   config,
		dir:      dir,
		logger:   config.Logger,
		registry: NewRegistry(),
	}
	return c, nil
}

// Eid maps the composite key (k1, k2, k3) to its dense row identifier.
// k3 is 1-based; consecutive k3 values share an eid when PageSize > 1.
func (c *Campaign) Eid(k1, k2, k3 uint32) uint32 {
	pages := (c.config.K3Max + c.config.PageSize - 1) / c.config.PageSize
	return (k1*c.config.K2Max+k2)*pages + (k3-1)/c.config.PageSize
}

// Directory returns the campaign's bitmap directory.
func (c *Campaign) Directory() *bitmap.Directory {
	return c.dir
}

// Logger returns the campaign logger.
func (c *Campaign) Logger() loggers.Advanced {
	return c.logger
}

// SetScanMigration flips the foreground protocol on or off. This is an
// operational command; the scan path only reads it.
func (c *Campaign) SetScanMigration(enabled bool) {
	c.scanMigration.Store(enabled)
}

// ScanMigrationEnabled reports whether foreground scans run the protocol.
func (c *Campaign) ScanMigrationEnabled() bool {
	return c.scanMigration.Load()
}

// enterCopyProc / leaveCopyProc bracket a copy-procedure invocation.
func (c *Campaign) enterCopyProc() {
	c.copyProcs.Add(1)
}

func (c *Campaign) leaveCopyProc() {
	if c.copyProcs.Add(-1) < 0 {
		panic("copy procedure counter went negative")
	}
}

// InCopyProc reports whether any copy procedure is currently driving
// passes anywhere in the process.
func (c *Campaign) InCopyProc() bool {
	return c.copyProcs.Load() > 0
}

// AddMigratedTuple is called by the scan hook when a tuple flowed to the
// caller under the protocol.
func (c *Campaign) AddMigratedTuple() {
	c.tupleMigrateCount.Add(1)
}

// TuplesMigrated returns the number of tuples returned by foreground
// scans under the protocol.
func (c *Campaign) TuplesMigrated() uint64 {
	return c.tupleMigrateCount.Load()
}
