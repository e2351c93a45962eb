package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/ohowland/cgc_dispatch/internal/pkg/formulation"
	"github.com/ohowland/cgc_dispatch/internal/pkg/msg"
	"github.com/ohowland/cgc_dispatch/internal/pkg/service"
	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
	"github.com/ohowland/cgc_dispatch/internal/pkg/symbol"
)

// Option configures a Routine at construction.
type Option func(*Routine)

// WithSolver replaces the default ADMM solver.
func WithSolver(s solver.Solver) Option {
	return func(r *Routine) { r.solver = s }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Routine) { r.recorder = rec }
}

// WithInfo sets the human readable description.
func WithInfo(info string) Option {
	return func(r *Routine) { r.info = info }
}

// SolveOptions are per-call solver settings.
type SolveOptions struct {
	// TimeLimit overrides the configured solver time limit when positive.
	TimeLimit time.Duration
}

// UnpackOptions select what Unpack writes back to the provider.
type UnpackOptions struct {
	// Period selects the slot of multi-period variables to write back.
	// Negative values count from the last slot. Nil falls back to
	// Config.Period; when both are nil multi-period variables stay in the routine.
	Period *int
}

// RunOptions combine the options of one Run.
type RunOptions struct {
	Solve  SolveOptions
	Unpack UnpackOptions
}

// Routine is one dispatch model: a symbol registry, its derived quantities
// and a formulation, bound to a device-data provider.
type Routine struct {
	mux       *sync.Mutex
	pid       uuid.UUID
	name      string
	info      string
	publisher *msg.PubSub
	provider  symbol.Provider
	reg       *symbol.Registry
	graph     *service.Graph
	form      *formulation.Formulation
	solver    solver.Solver
	recorder  Recorder
	config    Config

	state    State
	exitCode int
	err      error
	version  uint64
	program  *formulation.Program
	result   solver.Result
	values   map[string][][]float64
}

// New returns an empty routine reading from p. Declarations are added with
// AddParam, AddVar, AddService, AddConstraint and SetObjective.
func New(name string, p symbol.Provider, cfg Config, opts ...Option) (*Routine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	reg := symbol.NewRegistry(p)
	graph := service.NewGraph()
	r := &Routine{
		mux:       &sync.Mutex{},
		pid:       pid,
		name:      name,
		publisher: msg.NewPublisher(pid),
		provider:  p,
		reg:       reg,
		graph:     graph,
		form:      formulation.New(reg, graph),
		solver:    solver.New(),
		recorder:  nopRecorder{},
		config:    cfg.clone(),
		exitCode:  ExitNotRun,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// PID returns the routine's PID
func (r *Routine) PID() uuid.UUID {
	return r.pid
}

// Name returns the routine name.
func (r *Routine) Name() string {
	return r.name
}

// Info returns the routine description.
func (r *Routine) Info() string {
	return r.info
}

// Config returns a copy of the routine configuration.
func (r *Routine) Config() Config {
	return r.config.clone()
}

// Subscribe to routine events: status changes, configuration on setup and
// results on unpack.
func (r *Routine) Subscribe(pid uuid.UUID, topic msg.Topic) (<-chan msg.Msg, error) {
	return r.publisher.Subscribe(pid, topic)
}

// Unsubscribe from all routine events.
func (r *Routine) Unsubscribe(pid uuid.UUID) {
	r.publisher.Unsubscribe(pid)
}

// Registry returns the symbol registry.
func (r *Routine) Registry() *symbol.Registry { return r.reg }

// Services returns the derived-quantity graph.
func (r *Routine) Services() *service.Graph { return r.graph }

// Formulation returns the constraint and objective declarations.
func (r *Routine) Formulation() *formulation.Formulation { return r.form }

// AddParam declares a parameter.
func (r *Routine) AddParam(p *symbol.Param) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.graph.Has(p.Name) {
		return fmt.Errorf("param %s: %w", p.Name, ErrNameClash)
	}
	if _, err := r.reg.Declare(p); err != nil {
		return err
	}
	r.invalidate()
	return nil
}

// AddVar declares a decision variable.
func (r *Routine) AddVar(v *symbol.Var) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.graph.Has(v.Name) {
		return fmt.Errorf("var %s: %w", v.Name, ErrNameClash)
	}
	if _, err := r.reg.Declare(v); err != nil {
		return err
	}
	r.invalidate()
	return nil
}

// AddService registers a derived quantity. Hidden services feed other
// services only.
func (r *Routine) AddService(s service.Service, hidden bool) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.reg.Has(s.Name()) {
		return fmt.Errorf("service %s: %w", s.Name(), ErrNameClash)
	}
	if err := r.graph.Add(s, hidden); err != nil {
		return err
	}
	r.invalidate()
	return nil
}

// AddConstraint declares a constraint.
func (r *Routine) AddConstraint(c formulation.Constraint) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if err := r.form.AddConstraint(c); err != nil {
		return err
	}
	r.invalidate()
	return nil
}

// SetObjective declares the objective.
func (r *Routine) SetObjective(o formulation.Objective) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if err := r.form.SetObjective(o); err != nil {
		return err
	}
	r.invalidate()
	return nil
}

// SetConstraintExpr replaces the expression of a declared constraint.
func (r *Routine) SetConstraintExpr(name, estr string) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if err := r.form.SetConstraintExpr(name, estr); err != nil {
		return err
	}
	r.invalidate()
	return nil
}

// invalidate drops the compiled program after a declaration change. r.mux must be held.
func (r *Routine) invalidate() {
	r.program = nil
	r.values = nil
	r.state = Uninitialized
	r.exitCode = ExitNotRun
	r.err = nil
}

// State returns the lifecycle state.
func (r *Routine) State() State {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.state
}

// ExitCode is ExitOK after a successful solve, ExitSetupFailed after a
// failed setup and the solver status value after a failed solve.
func (r *Routine) ExitCode() int {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.exitCode
}

// Err returns the error that moved the routine to Failed, if any.
func (r *Routine) Err() error {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.err
}

// IsSetup reports whether a program is compiled against the provider's
// current data version.
func (r *Routine) IsSetup() bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.isSetup()
}

func (r *Routine) isSetup() bool {
	return r.program != nil && r.version == r.provider.Version()
}

// Program returns the compiled program, nil before Setup.
func (r *Routine) Program() *formulation.Program {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.program
}

// Result returns the last solver result.
func (r *Routine) Result() solver.Result {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.result
}

// Values returns a copy of the solved values of a variable, one row per device.
func (r *Routine) Values(name string) ([][]float64, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.state != Solved {
		return nil, fmt.Errorf("%s: %w", r.name, ErrNotSolved)
	}
	rows, ok := r.values[name]
	if !ok {
		return nil, fmt.Errorf("%s: no variable %q", r.name, name)
	}
	return copyRows(rows), nil
}

// Setup resolves every symbol against the provider, evaluates the services
// and compiles the program. It does nothing when already set up against the
// current data version.
func (r *Routine) Setup(ctx context.Context) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.setup(ctx)
}

func (r *Routine) setup(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx).WithName(r.name)
	if r.isSetup() {
		log.V(1).Info("already set up", "version", r.version)
		return nil
	}

	start := time.Now()
	version := r.provider.Version()
	r.reg.Reset()
	r.graph.Reset()
	prog, err := r.form.Build(logr.NewContext(ctx, log))
	r.recorder.ObserveSetup(r.name, time.Since(start), err)
	if err != nil {
		r.program = nil
		r.fail(ExitSetupFailed, fmt.Errorf("%s setup: %w", r.name, err))
		log.Error(err, "setup failed")
		return r.err
	}

	r.program = prog
	r.version = version
	r.values = nil
	r.result = solver.Result{}
	r.state = SetUp
	r.exitCode = ExitNotRun
	r.err = nil
	log.Info("set up", "columns", prog.N, "eqRows", len(prog.Beq), "ubRows", len(prog.Bub))
	r.publisher.Publish(msg.Config, r.config.clone())
	r.publishStatus()
	return nil
}

// Solve sets up when needed and runs the solver. A solve that ends without an
// optimal point moves the routine to Failed and is reported by Err, not
// returned. Setup failures, context cancellation and solver errors are returned.
func (r *Routine) Solve(ctx context.Context, opts SolveOptions) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.solve(ctx, opts)
}

func (r *Routine) solve(ctx context.Context, opts SolveOptions) error {
	if err := r.setup(ctx); err != nil {
		return err
	}
	log := logr.FromContextOrDiscard(ctx).WithName(r.name)

	options := r.config.Solver
	if opts.TimeLimit > 0 {
		options.TimeLimit = opts.TimeLimit
	}
	res, err := r.solver.Solve(logr.NewContext(ctx, log), r.program, options)
	r.recorder.ObserveSolve(r.name, res.Status.String(), res.Iterations, res.Runtime)
	if err != nil {
		r.fail(exitFor(res.Status), fmt.Errorf("%s solve: %w", r.name, err))
		log.Error(err, "solve failed")
		return r.err
	}
	if !res.Status.Converged() {
		r.result = res
		r.fail(exitFor(res.Status), &SolverNonConvergenceError{
			Routine:    r.name,
			Status:     res.Status,
			Iterations: res.Iterations,
		})
		log.Info("solver did not converge", "status", res.Status.String(), "iterations", res.Iterations)
		return nil
	}

	values := make(map[string][][]float64, len(r.program.Columns))
	for _, b := range r.program.Columns {
		rows, err := r.program.Unflatten(b.Name, res.X)
		if err != nil {
			r.fail(ExitUnknown, fmt.Errorf("%s solve: %w", r.name, err))
			return r.err
		}
		values[b.Name] = rows
	}
	r.result = res
	r.values = values
	r.state = Solved
	r.exitCode = ExitOK
	r.err = nil
	log.Info("solved", "objective", res.Objective, "iterations", res.Iterations, "runtime", res.Runtime)
	r.publishStatus()
	return nil
}

// Unpack writes the solved values of every variable with an owner attribute
// back to the provider and publishes the result. Multi-period variables are
// written only for the slot selected by the options or the config.
func (r *Routine) Unpack(ctx context.Context, opts UnpackOptions) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.unpack(ctx, opts)
}

func (r *Routine) unpack(ctx context.Context, opts UnpackOptions) error {
	log := logr.FromContextOrDiscard(ctx).WithName(r.name)
	if r.state != Solved {
		return fmt.Errorf("%s unpack: %w", r.name, ErrNotSolved)
	}
	period := opts.Period
	if period == nil {
		period = r.config.Period
	}

	for _, b := range r.program.Columns {
		v := b.Var
		if v.Src == "" {
			continue
		}
		rows := r.values[b.Name]
		if len(b.Shape) == 2 {
			if period == nil {
				log.V(1).Info("multi-period variable kept in routine", "var", b.Name)
				continue
			}
			k, err := slot(*period, b.Shape[1])
			if err != nil {
				return fmt.Errorf("%s unpack %s: %w", r.name, b.Name, err)
			}
			rows = columnAt(rows, k)
		}
		idx, err := r.provider.Idx(v.Model)
		if err != nil {
			return fmt.Errorf("%s unpack %s: %w", r.name, b.Name, err)
		}
		if err := r.provider.SetAttribute(v.Model, v.Src, idx, rows); err != nil {
			return fmt.Errorf("%s unpack %s: %w", r.name, b.Name, err)
		}
		log.V(1).Info("unpacked", "var", b.Name, "model", v.Model, "src", v.Src)
	}
	r.publisher.Publish(msg.Result, r.report(period))
	return nil
}

// Run sets up, solves and unpacks. A non-converged solve is returned as the
// routine's stored error and nothing is unpacked.
func (r *Routine) Run(ctx context.Context, opts RunOptions) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if err := r.solve(ctx, opts.Solve); err != nil {
		return err
	}
	if r.state != Solved {
		return r.err
	}
	return r.unpack(ctx, opts.Unpack)
}

// DC2AC is not available for DC routines.
func (r *Routine) DC2AC(context.Context) error {
	return &NotSupportedError{Routine: r.name, Op: "dc2ac"}
}

func (r *Routine) String() string {
	r.mux.Lock()
	defer r.mux.Unlock()
	return fmt.Sprintf("Routine %s: Is Setup: %t; Exit Code: %d", r.name, r.isSetup(), r.exitCode)
}

// fail moves the routine to Failed. r.mux must be held.
func (r *Routine) fail(code int, err error) {
	r.state = Failed
	r.exitCode = code
	r.err = err
	r.values = nil
	r.publishStatus()
}

// Report returns the current status report.
func (r *Routine) Report() StatusReport {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.statusReport()
}

func (r *Routine) publishStatus() {
	r.publisher.Publish(msg.Status, r.statusReport())
}

func (r *Routine) statusReport() StatusReport {
	report := StatusReport{
		Routine:  r.name,
		PID:      r.pid,
		State:    r.state.String(),
		ExitCode: r.exitCode,
	}
	if r.err != nil {
		report.Err = r.err.Error()
	}
	return report
}

func (r *Routine) report(period *int) Result {
	res := Result{
		Routine:    r.name,
		PID:        r.pid,
		Status:     r.result.Status.String(),
		Objective:  r.result.Objective,
		Iterations: r.result.Iterations,
		Runtime:    r.result.Runtime,
		Vars:       make(map[string][][]float64, len(r.values)),
		Time:       time.Now(),
	}
	if period != nil {
		p := *period
		res.Period = &p
	}
	for name, rows := range r.values {
		res.Vars[name] = copyRows(rows)
	}
	return res
}

func exitFor(s solver.Status) int {
	if int(s) == ExitOK {
		return ExitUnknown
	}
	return int(s)
}

func slot(period, t int) (int, error) {
	k := period
	if k < 0 {
		k += t
	}
	if k < 0 || k >= t {
		return 0, fmt.Errorf("period %d outside horizon of %d slots", period, t)
	}
	return k, nil
}

func columnAt(rows [][]float64, k int) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = []float64{row[k]}
	}
	return out
}

func copyRows(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, r := range m {
		out[i] = append([]float64(nil), r...)
	}
	return out
}
