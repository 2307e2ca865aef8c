package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Result is the tagged outcome of a stage. Any value other than Continue or
// Halt fails the run with ErrUnknownResult.
type Result int

const (
	// Continue hands control to the next stage.
	Continue Result = iota
	// Halt ends the run; the context as it stands is final.
	Halt
)

func (r Result) String() string {
	switch r {
	case Continue:
		return "continue"
	case Halt:
		return "halt"
	default:
		return "unknown"
	}
}

// State is the lifecycle position of a pipeline run.
type State int

const (
	Pending State = iota
	Running
	Completed
	ShortCircuited
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case ShortCircuited:
		return "short_circuited"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stage processes one step of a request.
type Stage interface {
	// Name returns the identifier used in logs, spans and errors.
	Name() string
	// Process may read and mutate pc, then reports whether the run continues.
	Process(ctx context.Context, pc *Context) (Result, error)
}

type funcStage struct {
	name string
	fn   func(ctx context.Context, pc *Context) (Result, error)
}

func (s *funcStage) Name() string { return s.name }

func (s *funcStage) Process(ctx context.Context, pc *Context) (Result, error) {
	return s.fn(ctx, pc)
}

// Func adapts a function into a named Stage.
func Func(name string, fn func(ctx context.Context, pc *Context) (Result, error)) Stage {
	return &funcStage{name: name, fn: fn}
}

// Observer is notified as stages and runs finish. Implementations must be
// safe for concurrent use since distinct requests run in parallel.
type Observer interface {
	StageDone(stage string, result Result, err error, elapsed time.Duration)
	RunDone(state State, elapsed time.Duration)
}

// Pipeline runs an ordered list of stages over a Context.
type Pipeline struct {
	mu       sync.RWMutex
	stages   []Stage
	tracer   trace.Tracer
	observer Observer
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTracer records one span per stage.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithObserver installs a stage/run completion hook.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithLogger sets the logger used for stage debug output.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates an empty pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		tracer: noop.NewTracerProvider().Tracer("pipeline"),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Use appends stages in the order given. Order is never changed afterwards.
func (p *Pipeline) Use(stages ...Stage) *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = append(p.stages, stages...)
	return p
}

// Stages returns the registered stage names in execution order.
func (p *Pipeline) Stages() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes the stages over pc and returns the final state.
// A non-nil error is always a *StageError and the state is Failed.
func (p *Pipeline) Run(ctx context.Context, pc *Context) (State, error) {
	p.mu.RLock()
	stages := make([]Stage, len(p.stages))
	copy(stages, p.stages)
	p.mu.RUnlock()

	start := time.Now()
	pc.state = Running

	state, err := p.run(ctx, pc, stages)
	pc.state = state

	if p.observer != nil {
		p.observer.RunDone(state, time.Since(start))
	}
	return state, err
}

func (p *Pipeline) run(ctx context.Context, pc *Context, stages []Stage) (State, error) {
	for _, stage := range stages {
		result, err := p.runStage(ctx, pc, stage)
		if err != nil {
			return Failed, &StageError{Stage: stage.Name(), Err: err}
		}
		if result == Halt {
			p.logger.Debug("pipeline short-circuited",
				slog.String("request_id", pc.RequestID),
				slog.String("stage", stage.Name()),
				slog.Int("status", pc.Response.StatusCode),
			)
			return ShortCircuited, nil
		}
	}
	return Completed, nil
}

func (p *Pipeline) runStage(ctx context.Context, pc *Context, stage Stage) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "stage "+stage.Name(),
		trace.WithAttributes(
			attribute.String("pipeline.stage", stage.Name()),
			attribute.String("http.target", pc.Request.Path()),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := stage.Process(ctx, pc)
	elapsed := time.Since(start)
	if err == nil && result != Continue && result != Halt {
		err = fmt.Errorf("%w: %d", ErrUnknownResult, int(result))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.String("pipeline.result", result.String()))
	}

	if p.observer != nil {
		p.observer.StageDone(stage.Name(), result, err, elapsed)
	}
	return result, err
}
