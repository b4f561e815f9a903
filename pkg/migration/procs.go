package migration

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/DSLAM-UMD/BullFrog/pkg/statement"
	"github.com/pingcap/errors"
)

// Procedure is a callable registered with the host. Arguments arrive as
// text, the way the host hands them over, and the result is text (empty
// for void procedures).
type Procedure func(ctx context.Context, args ...string) (string, error)

// Finish ends the ambient transaction of a procedure call: commit when
// the procedure succeeded, roll back otherwise.
type Finish func(err error) error

// ExecutorOpener begins the ambient transaction for one procedure call
// and returns the executor bound to it.
type ExecutorOpener func(ctx context.Context) (Executor, Finish, error)

// Registry is the registration surface for callable procedures.
type Registry struct {
	mu    sync.Mutex
	procs map[string]Procedure
}

func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]Procedure)}
}

// Register adds a procedure under name. Re-registering a name is an error.
func (r *Registry) Register(name string, p Procedure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.procs[name]; ok {
		return errors.Errorf("procedure %q already registered", name)
	}
	r.procs[name] = p
	return nil
}

// Call invokes a registered procedure by name.
func (r *Registry) Call(ctx context.Context, name string, args ...string) (string, error) {
	r.mu.Lock()
	p, ok := r.procs[name]
	r.mu.Unlock()
	if !ok {
		return "", errors.Errorf("unknown procedure %q", name)
	}
	return p(ctx, args...)
}

// Names returns the registered procedure names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.procs))
	for name := range r.procs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry returns the campaign's procedure registry.
func (c *Campaign) Registry() *Registry {
	return c.registry
}

func parseInt32(arg string) (int32, error) {
	v, err := strconv.ParseInt(arg, 10, 32)
	if err != nil {
		return 0, errors.Annotatef(err, "bad integer argument %q", arg)
	}
	return int32(v), nil
}

// runProcedure is the shared body of every copy procedure: open the
// ambient transaction, drive passes for the worker, then commit or roll
// back through finish.
func (c *Campaign) runProcedure(ctx context.Context, open ExecutorOpener, workerID int, stmts []statement.Statement) (err error) {
	exec, finish, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = finish(err)
	}()
	session := c.NewSession(workerID)
	driver, err := NewDriver(session, exec, stmts, nil)
	if err != nil {
		return err
	}
	return driver.Run(ctx)
}

// keyedProc wraps a (c_w_id, c_d_id, c_id, worker_id) procedure.
func (c *Campaign) keyedProc(open ExecutorOpener, build func(cWID, cDID, cID int32) []statement.Statement) Procedure {
	return func(ctx context.Context, args ...string) (string, error) {
		if len(args) != 4 {
			return "", errors.Errorf("expected 4 arguments, got %d", len(args))
		}
		ints := make([]int32, 4)
		for i, arg := range args {
			v, err := parseInt32(arg)
			if err != nil {
				return "", err
			}
			ints[i] = v
		}
		return "", c.runProcedure(ctx, open, int(ints[3]), build(ints[0], ints[1], ints[2]))
	}
}

// lastNameProc wraps a (c_w_id, c_d_id, c_last, worker_id) procedure.
func (c *Campaign) lastNameProc(open ExecutorOpener, build func(cWID, cDID int32, cLast string) []statement.Statement) Procedure {
	return func(ctx context.Context, args ...string) (string, error) {
		if len(args) != 4 {
			return "", errors.Errorf("expected 4 arguments, got %d", len(args))
		}
		cWID, err := parseInt32(args[0])
		if err != nil {
			return "", err
		}
		cDID, err := parseInt32(args[1])
		if err != nil {
			return "", err
		}
		workerID, err := parseInt32(args[3])
		if err != nil {
			return "", err
		}
		return "", c.runProcedure(ctx, open, int(workerID), build(cWID, cDID, args[2]))
	}
}

// rangeProc wraps a (c_w_id, c_d_id, c_id_lo, c_id_hi, worker_id) procedure.
func (c *Campaign) rangeProc(open ExecutorOpener, build func(cWID, cDID, lo, hi int32) []statement.Statement) Procedure {
	return func(ctx context.Context, args ...string) (string, error) {
		if len(args) != 5 {
			return "", errors.Errorf("expected 5 arguments, got %d", len(args))
		}
		ints := make([]int32, 5)
		for i, arg := range args {
			v, err := parseInt32(arg)
			if err != nil {
				return "", err
			}
			ints[i] = v
		}
		return "", c.runProcedure(ctx, open, int(ints[4]), build(ints[0], ints[1], ints[2], ints[3]))
	}
}

// addOne is the sanity probe for the registration surface.
func addOne(_ context.Context, args ...string) (string, error) {
	if len(args) != 1 {
		return "", errors.Errorf("expected 1 argument, got %d", len(args))
	}
	v, err := parseInt32(args[0])
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(int64(v)+1, 10), nil
}

// RegisterProcedures populates the campaign registry with the copy
// procedures, binding their ambient transactions to open.
func (c *Campaign) RegisterProcedures(open ExecutorOpener) error {
	single1 := func(w, d, id int32) []statement.Statement {
		return []statement.Statement{statement.Proj1ByID(w, d, id)}
	}
	single2 := func(w, d, id int32) []statement.Statement {
		return []statement.Statement{statement.Proj2ByID(w, d, id)}
	}
	last1 := func(w, d int32, l string) []statement.Statement {
		return []statement.Statement{statement.Proj1ByLast(w, d, l)}
	}
	last2 := func(w, d int32, l string) []statement.Statement {
		return []statement.Statement{statement.Proj2ByLast(w, d, l)}
	}
	for name, proc := range map[string]Procedure{
		"add_one":                  addOne,
		"customer_proj1_q1":        c.keyedProc(open, single1),
		"customer_proj1_q2":        c.lastNameProc(open, last1),
		"customer_proj2_q1":        c.keyedProc(open, single2),
		"customer_proj2_q2":        c.lastNameProc(open, last2),
		"customer_proj_q1":         c.keyedProc(open, statement.ProjByID),
		"customer_proj_q2":         c.lastNameProc(open, statement.ProjByLast),
		"customer_proj_background": c.rangeProc(open, statement.ProjRange),
		"customer_proj_page":       c.rangeProc(open, statement.ProjPage),
	} {
		if err := c.registry.Register(name, proc); err != nil {
			return err
		}
	}
	return nil
}
