package migration

import (
	"context"

	"github.com/DSLAM-UMD/BullFrog/pkg/statement"
	"github.com/pingcap/errors"
	"github.com/siddontang/loggers"
)

// DefaultMaxPasses bounds the driver's retry loop. Termination normally
// comes from the tracking table draining; the cap exists so a worker
// stuck behind a copier that never finishes surfaces an error instead of
// spinning.
const DefaultMaxPasses = 100

// ErrTooManyPasses is returned when the tracking table has not drained
// within the configured pass limit.
var ErrTooManyPasses = errors.New("copy pass limit exceeded")

// Executor runs one statement inside the ambient transaction of the
// procedure call. dbconn provides the SQL implementation; tests provide
// an in-memory one that routes every candidate row through the decision
// routine.
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) (rowsAffected int64, err error)
}

// DriverConfig tunes one driver invocation.
type DriverConfig struct {
	MaxPasses int
	Logger    loggers.Advanced
}

// Driver executes an ordered collection of row-copy statements in
// repeated passes until the worker's tracking table is empty. Every pass
// runs all statements, in order, inside the ambient transaction.
type Driver struct {
	session    *Session
	exec       Executor
	statements []statement.Statement
	maxPasses  int
	logger     loggers.Advanced
}

// NewDriver validates the statements and prepares a driver for one
// procedure invocation.
func NewDriver(session *Session, exec Executor, stmts []statement.Statement, config *DriverConfig) (*Driver, error) {
	if session == nil {
		return nil, errors.New("session must be non-nil")
	}
	if exec == nil {
		return nil, errors.New("executor must be non-nil")
	}
	if len(stmts) == 0 {
		return nil, errors.New("at least one copy statement is required")
	}
	for _, stmt := range stmts {
		if err := statement.AssertInsertSelect(stmt.Query); err != nil {
			return nil, err
		}
	}
	d := &Driver{
		session:    session,
		exec:       exec,
		statements: stmts,
		maxPasses:  DefaultMaxPasses,
		logger:     session.campaign.logger,
	}
	if config != nil {
		if config.MaxPasses > 0 {
			d.maxPasses = config.MaxPasses
		}
		if config.Logger != nil {
			d.logger = config.Logger
		}
	}
	return d, nil
}

// Run drives passes until the tracking table drains. A statement failure
// is fatal to the procedure call and is propagated unchanged; nothing is
// committed beyond what the ambient transaction holds. Rows this worker
// claimed during a pass are marked migrated once the pass completes,
// since their projection inserts are then part of the transaction.
func (d *Driver) Run(ctx context.Context) error {
	d.session.campaign.enterCopyProc()
	defer d.session.campaign.leaveCopyProc()

	for pass := 1; ; pass++ {
		if pass > d.maxPasses {
			return errors.Annotatef(ErrTooManyPasses, "worker=%d passes=%d tracking=%d",
				d.session.workerID, d.maxPasses, d.session.TrackingSize())
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		var rowsAffected int64
		for _, stmt := range d.statements {
			n, err := d.exec.Exec(ctx, stmt.Query, stmt.Args...)
			if err != nil {
				return err
			}
			rowsAffected += n
		}
		d.session.CompleteClaimed()
		d.logger.Infof("copy pass complete: worker=%d pass=%d rows-affected=%d tracking=%d",
			d.session.workerID, pass, rowsAffected, d.session.TrackingSize())
		if d.session.TrackingSize() == 0 {
			return nil
		}
	}
}
