package migration

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/DSLAM-UMD/BullFrog/pkg/dbconn"
	"github.com/DSLAM-UMD/BullFrog/pkg/preflight"
	"github.com/DSLAM-UMD/BullFrog/pkg/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// NewSQLOpener returns an ExecutorOpener that begins one standardized
// transaction per procedure call, committing on success and rolling back
// on any error. This is the ambient transaction the driver runs inside.
func NewSQLOpener(db *sql.DB, config *dbconn.DBConfig) ExecutorOpener {
	return func(ctx context.Context) (Executor, Finish, error) {
		trx, _, err := dbconn.BeginStandardTrx(ctx, db, config)
		if err != nil {
			return nil, nil, err
		}
		finish := func(err error) error {
			if err != nil {
				utils.ErrInErr(trx.Rollback())
				return err
			}
			return trx.Commit()
		}
		return dbconn.NewTrxExecutor(trx), finish, nil
	}
}

type ConnectFlags struct {
	Host     string `name:"host" default:"127.0.0.1:3306" help:"MySQL host:port."`
	Username string `name:"username" default:"root" help:"MySQL user."`
	Password string `name:"password" default:"" help:"MySQL password."`
	Database string `name:"database" required:"" help:"Schema holding the customer tables."`
}

func (f *ConnectFlags) open() (*sql.DB, *dbconn.DBConfig, error) {
	config := dbconn.NewDBConfig()
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s", f.Username, f.Password, f.Host, f.Database)
	db, err := dbconn.New(dsn, config)
	return db, config, err
}

func (f *ConnectFlags) dsn() string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s", f.Username, f.Password, f.Host, f.Database)
}

// Background runs the background copy over a customer id range, split
// across worker goroutines.
type Background struct {
	ConnectFlags
	CWID    int32 `name:"c-w-id" required:"" help:"Warehouse id."`
	CDID    int32 `name:"c-d-id" required:"" help:"District id."`
	CIDLo   int32 `name:"c-id-lo" required:"" help:"Lower customer id bound (inclusive)."`
	CIDHi   int32 `name:"c-id-hi" required:"" help:"Upper customer id bound (exclusive)."`
	Threads int   `name:"threads" default:"4" help:"Number of background workers."`
}

func (b *Background) Run() error {
	logger := logrus.New()
	db, config, err := b.open()
	if err != nil {
		return err
	}
	defer utils.CloseAndLog(db)
	ctx := context.Background()

	if err := preflight.CheckProjectionTables(ctx, db); err != nil {
		return err
	}
	lock, err := dbconn.NewCampaignLock(ctx, b.dsn(), "customer", logger)
	if err != nil {
		return err
	}
	defer utils.CloseAndLog(lock)

	campaign, err := NewCampaign(Config{Logger: logger})
	if err != nil {
		return err
	}
	if err := campaign.RegisterProcedures(NewSQLOpener(db, config)); err != nil {
		return err
	}

	logger.Infof("starting background migration: range=[%d,%d) threads=%d", b.CIDLo, b.CIDHi, b.Threads)
	g, ctx := errgroup.WithContext(ctx)
	for w, sub := range SplitRange(b.CIDLo, b.CIDHi, b.Threads) {
		g.Go(func() error {
			_, err := campaign.Registry().Call(ctx, "customer_proj_background",
				formatInt(b.CWID), formatInt(b.CDID),
				formatInt(sub[0]), formatInt(sub[1]), strconv.Itoa(w))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := preflight.CheckNoDuplicates(ctx, db); err != nil {
		return err
	}
	logger.Info("background migration complete")
	return nil
}

// Call invokes a registered procedure by name.
type Call struct {
	ConnectFlags
	Name string   `arg:"" help:"Procedure name, e.g. add_one or customer_proj_q1."`
	Args []string `arg:"" optional:"" help:"Procedure arguments."`
}

func (c *Call) Run() error {
	logger := logrus.New()
	db, config, err := c.open()
	if err != nil {
		return err
	}
	defer utils.CloseAndLog(db)
	campaign, err := NewCampaign(Config{Logger: logger})
	if err != nil {
		return err
	}
	if err := campaign.RegisterProcedures(NewSQLOpener(db, config)); err != nil {
		return err
	}
	result, err := campaign.Registry().Call(context.Background(), c.Name, c.Args...)
	if err != nil {
		return err
	}
	if result != "" {
		fmt.Println(result)
	}
	return nil
}

// Rebuild repopulates the bitmap directory by scanning the projections.
type Rebuild struct {
	ConnectFlags
}

func (r *Rebuild) Run() error {
	logger := logrus.New()
	db, _, err := r.open()
	if err != nil {
		return err
	}
	defer utils.CloseAndLog(db)
	campaign, err := NewCampaign(Config{Logger: logger})
	if err != nil {
		return err
	}
	n, err := RebuildBitmap(context.Background(), db, campaign)
	if err != nil {
		return err
	}
	fmt.Printf("rebuilt bitmap from %d projected rows\n", n)
	return nil
}

// SplitRange divides the half-open range [lo, hi) into up to n contiguous
// half-open subranges of near-equal size, in order.
func SplitRange(lo, hi int32, n int) [][2]int32 {
	if n < 1 {
		n = 1
	}
	total := hi - lo
	if total <= 0 {
		return nil
	}
	if int32(n) > total {
		n = int(total)
	}
	subs := make([][2]int32, 0, n)
	step := total / int32(n)
	rem := total % int32(n)
	start := lo
	for i := range int32(n) {
		end := start + step
		if i < rem {
			end++
		}
		subs = append(subs, [2]int32{start, end})
		start = end
	}
	return subs
}

func formatInt(v int32) string {
	return strconv.FormatInt(int64(v), 10)
}
