package bootstrap

import (
	"context"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bootstrap/artifact"
	"github.com/wippyai/wasm-bootstrap/errors"
	"github.com/wippyai/wasm-bootstrap/lifecycle"
)

// Instance is the opaque result of instantiating the binary artifact.
type Instance interface {
	Close(ctx context.Context) error
}

// Loader is the loader facility: it instantiates a binary and provides
// the entry point that runs an instantiation result.
type Loader interface {
	Instantiate(ctx context.Context, binary []byte) (Instance, error)
	Run(ctx context.Context, inst Instance) error
}

// Stage is a step of the bootstrap sequence.
type Stage int

const (
	StageCheck Stage = iota
	StageFetch
	StageValidate
	StageInstantiate
	StageRun
	StageDone
	StageFailed
)

var stageNames = [...]string{
	StageCheck:       "check",
	StageFetch:       "fetch",
	StageValidate:    "validate",
	StageInstantiate: "instantiate",
	StageRun:         "run",
	StageDone:        "done",
	StageFailed:      "failed",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

func (s Stage) phase() errors.Phase {
	switch s {
	case StageFetch:
		return errors.PhaseFetch
	case StageValidate:
		return errors.PhaseValidate
	case StageInstantiate:
		return errors.PhaseInstantiate
	case StageRun:
		return errors.PhaseRun
	default:
		return errors.PhaseTrigger
	}
}

// Outcome describes one bootstrap run.
type Outcome struct {
	Err      *errors.Error
	Instance Instance // set only with WithKeepInstance and a successful run
	Location string
	Stage    Stage // last stage entered before done/failed
	Duration time.Duration
}

// OK reports whether the entry point ran to completion.
func (o *Outcome) OK() bool {
	return o != nil && o.Err == nil
}

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithLogger sets the logger used for stage tracing.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bootstrapper) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithObserver registers fn to be called on every stage transition,
// including the final StageDone or StageFailed.
func WithObserver(fn func(Stage)) Option {
	return func(b *Bootstrapper) { b.observer = fn }
}

// WithValidation toggles the binary header check before instantiation.
// Enabled by default.
func WithValidation(enabled bool) Option {
	return func(b *Bootstrapper) { b.validate = enabled }
}

// WithKeepInstance keeps the instance open after the entry point returns
// and hands it to the caller in Outcome.Instance.
func WithKeepInstance() Option {
	return func(b *Bootstrapper) { b.keep = true }
}

// Bootstrapper runs the load-instantiate-run sequence.
type Bootstrapper struct {
	loader   Loader
	source   artifact.Source
	sink     Sink
	observer func(Stage)
	logger   *zap.Logger
	outcome  *Outcome
	done     chan struct{}
	once     sync.Once
	validate bool
	keep     bool
}

// New creates a Bootstrapper. loader may be nil; the run then takes the
// missing-loader branch. A nil sink discards diagnostics.
func New(loader Loader, source artifact.Source, sink Sink, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		loader:   loader,
		source:   source,
		sink:     sink,
		logger:   zap.NewNop(),
		done:     make(chan struct{}),
		validate: true,
	}
	if b.sink == nil {
		b.sink = NewLogSink(nil)
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Handler returns the load event handler. The first invocation starts the
// sequence on its own goroutine; later invocations are ignored.
func (b *Bootstrapper) Handler() lifecycle.Handler {
	return func(ctx context.Context) {
		b.once.Do(func() {
			ch := b.Start(ctx)
			go func() {
				b.outcome = <-ch
				close(b.done)
			}()
		})
	}
}

// Done is closed once the run started by Handler has finished.
func (b *Bootstrapper) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the run started by Handler finishes and returns its
// outcome. It never returns if the handler is not fired; use WaitContext
// when that is possible.
func (b *Bootstrapper) Wait() *Outcome {
	<-b.done
	return b.outcome
}

// WaitContext is Wait bounded by ctx. It returns ctx.Err() if ctx ends
// before the run started by Handler has finished.
func (b *Bootstrapper) WaitContext(ctx context.Context) (*Outcome, error) {
	select {
	case <-b.done:
		return b.outcome, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start runs the sequence asynchronously. The returned channel delivers
// exactly one outcome.
func (b *Bootstrapper) Start(ctx context.Context) <-chan *Outcome {
	ch := make(chan *Outcome, 1)
	go func() {
		ch <- b.Run(ctx)
	}()
	return ch
}

// Run executes the sequence synchronously. Cancellation of ctx is not
// propagated into the chain; once started it runs to completion or
// failure. Failures are reported to the sink exactly once.
func (b *Bootstrapper) Run(ctx context.Context) *Outcome {
	start := time.Now()
	out := &Outcome{Stage: StageCheck}
	b.enter(out, StageCheck)

	if isNil(b.loader) {
		out.Err = errors.MissingLoader()
		return b.finish(out, start)
	}

	out.Err = b.chain(context.WithoutCancel(ctx), out)
	return b.finish(out, start)
}

func (b *Bootstrapper) chain(ctx context.Context, out *Outcome) (err *errors.Error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Panic(out.Stage.phase(), r)
		}
	}()

	if b.source == nil {
		return errors.InvalidInput(errors.PhaseResolve, "no artifact source")
	}
	out.Location = b.source.Location()

	b.enter(out, StageFetch)
	data, ferr := b.source.Fetch(ctx)
	if ferr != nil {
		return withLocation(errors.From(errors.PhaseFetch, errors.KindTransport, ferr), out.Location)
	}

	if b.validate {
		b.enter(out, StageValidate)
		if verr := artifact.Validate(data); verr != nil {
			return withLocation(errors.From(errors.PhaseValidate, errors.KindInvalidData, verr), out.Location)
		}
	}

	b.enter(out, StageInstantiate)
	inst, ierr := b.loader.Instantiate(ctx, data)
	if ierr != nil {
		return withLocation(errors.From(errors.PhaseInstantiate, errors.KindInternal, ierr), out.Location)
	}
	if isNil(inst) {
		return errors.New(errors.PhaseInstantiate, errors.KindInternal).
			Location(out.Location).
			Detail("loader returned no instance").
			Build()
	}

	kept := false
	defer func() {
		if kept {
			return
		}
		if cerr := inst.Close(ctx); cerr != nil {
			b.logger.Debug("close instance", zap.String("location", out.Location), zap.Error(cerr))
		}
	}()

	b.enter(out, StageRun)
	if rerr := b.loader.Run(ctx, inst); rerr != nil {
		return errors.From(errors.PhaseRun, errors.KindTrap, rerr)
	}

	if b.keep {
		out.Instance = inst
		kept = true
	}
	return nil
}

func (b *Bootstrapper) enter(out *Outcome, s Stage) {
	out.Stage = s
	b.logger.Debug("bootstrap stage", zap.Stringer("stage", s))
	b.notify(s)
}

func (b *Bootstrapper) finish(out *Outcome, start time.Time) *Outcome {
	out.Duration = time.Since(start)
	if out.Err != nil {
		b.notify(StageFailed)
		b.report(out.Err)
		return out
	}
	b.logger.Debug("bootstrap complete",
		zap.String("location", out.Location),
		zap.Duration("duration", out.Duration))
	b.notify(StageDone)
	return out
}

func (b *Bootstrapper) notify(s Stage) {
	if b.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("stage observer panicked", zap.Stringer("stage", s), zap.Any("panic", r))
		}
	}()
	b.observer(s)
}

func (b *Bootstrapper) report(err *errors.Error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("diagnostic sink panicked", zap.Any("panic", r))
		}
	}()
	b.sink.Report(err)
}

func withLocation(err *errors.Error, loc string) *errors.Error {
	if err.Location == "" {
		err.Location = loc
	}
	return err
}

// isNil treats typed nil pointers stored in an interface as missing.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Func, reflect.Interface, reflect.Chan, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
