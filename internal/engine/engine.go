package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/neurotune/neurotune-api/internal/llm"
	"github.com/neurotune/neurotune-api/internal/logger"
	"github.com/neurotune/neurotune-api/internal/metrics"
	"github.com/neurotune/neurotune-api/internal/models"
	"github.com/neurotune/neurotune-api/internal/observability"
	"github.com/neurotune/neurotune-api/internal/prompt"
	"github.com/neurotune/neurotune-api/internal/schedule"
	"golang.org/x/sync/semaphore"
)

// State is the lifecycle state of an Engine
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Where a returned schedule came from
const (
	SourceGenerated       = "generated"
	SourceFallback        = "fallback"
	SourceTimeoutFallback = "timeout_fallback"
)

const (
	defaultMaxRetries = 2
	defaultTimeout    = 15 * time.Second
	defaultWorkers    = 4

	systemPrompt = "You design audio modulation schedules. Reply with a single JSON object and nothing else."
)

// Options tunes generation. Zero values fall back to defaults where noted.
type Options struct {
	Model string // label for traces and metrics

	// MaxRetries is the number of extra attempts after the first
	MaxRetries int
	// Timeout bounds one Generate call; 0 means 15s
	Timeout time.Duration
	// TimeoutFallback returns the catalog schedule on timeout instead of ErrGenerationTimeout
	TimeoutFallback bool
	// Workers caps concurrent inferences; 0 means 4
	Workers int

	StrictTiming       bool
	AlignmentTolerance float64
	StructuredOutput   bool
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		MaxRetries:         defaultMaxRetries,
		Timeout:            defaultTimeout,
		TimeoutFallback:    true,
		Workers:            defaultWorkers,
		StrictTiming:       true,
		AlignmentTolerance: schedule.DefaultAlignmentTolerance,
	}
}

// Option configures optional Engine collaborators
type Option func(*Engine)

// WithRecorder sends attempt and outcome metrics to r
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithTracer records every Generate as a Langfuse trace
func WithTracer(t *observability.LangfuseClient) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithCatalog replaces the default fallback catalog
func WithCatalog(c *schedule.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// AttemptFailure describes one rejected attempt
type AttemptFailure struct {
	Attempt  int           `json:"attempt"`
	Category string        `json:"category"`
	Reason   string        `json:"reason"`
	Raw      string        `json:"raw,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of one Generate call
type Result struct {
	Schedule models.ModulationSchedule `json:"schedule"`
	Source   string                    `json:"source"`
	Attempts int                       `json:"attempts"`
	Failures []AttemptFailure          `json:"failures,omitempty"`
	Duration time.Duration             `json:"duration"`
}

// Stats are cumulative counters since the engine was created
type Stats struct {
	Requests         int64 `json:"requests"`
	Generated        int64 `json:"generated"`
	Fallbacks        int64 `json:"fallbacks"`
	TimeoutFallbacks int64 `json:"timeout_fallbacks"`
	Timeouts         int64 `json:"timeouts"`
	Attempts         int64 `json:"attempts"`
	FailedAttempts   int64 `json:"failed_attempts"`
}

// Engine turns an intent into a valid modulation schedule, using the model
// when it produces one and the catalog otherwise. Safe for concurrent use.
type Engine struct {
	provider  llm.Provider
	catalog   *schedule.Catalog
	builder   *prompt.Builder
	sanitizer *schedule.Sanitizer
	validator *schedule.Validator
	recorder  metrics.Recorder
	tracer    *observability.LangfuseClient
	opts      Options
	sem       *semaphore.Weighted

	state   atomic.Int32
	loadMu  sync.Mutex
	loading *loadCall

	requests, generated, fallbacks, timeoutFallbacks atomic.Int64
	timeouts, attempts, failedAttempts               atomic.Int64
}

// New creates an engine around provider. Call Load before Generate.
func New(provider llm.Provider, opts Options, options ...Option) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if limiter, ok := provider.(llm.ConcurrencyLimiter); ok {
		if limit := limiter.MaxConcurrency(); limit > 0 && limit < opts.Workers {
			opts.Workers = limit
		}
	}

	var validatorOpts []schedule.ValidatorOption
	if opts.StrictTiming {
		validatorOpts = append(validatorOpts, schedule.WithStrictTiming(opts.AlignmentTolerance))
	}

	e := &Engine{
		provider:  provider,
		catalog:   schedule.DefaultCatalog(),
		builder:   prompt.NewPromptBuilder(),
		sanitizer: schedule.NewSanitizer(schedule.DefaultReasoningStart, schedule.DefaultReasoningEnd),
		validator: schedule.NewValidator(validatorOpts...),
		recorder:  metrics.Nop{},
		tracer:    observability.Disabled(),
		opts:      opts,
		sem:       semaphore.NewWeighted(int64(opts.Workers)),
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Catalog returns the fallback catalog
func (e *Engine) Catalog() *schedule.Catalog {
	return e.catalog
}

// Options returns the effective options
func (e *Engine) Options() Options {
	return e.opts
}

// loadCall is one provider Load in flight. err is set before done is closed.
type loadCall struct {
	done chan struct{}
	err  error
}

// Load prepares the provider. It is idempotent: once Ready, further calls return nil.
// At most one provider load runs at a time; callers arriving while it is in flight
// wait for it, even if an earlier caller gave up. After a failure a later call retries.
func (e *Engine) Load(ctx context.Context) error {
	e.loadMu.Lock()
	if e.State() == StateReady {
		e.loadMu.Unlock()
		return nil
	}
	call := e.loading
	if call == nil {
		call = &loadCall{done: make(chan struct{})}
		e.loading = call
		e.state.Store(int32(StateLoading))
		go e.runLoad(ctx, call)
	}
	e.loadMu.Unlock()

	select {
	case <-call.done:
		if call.err != nil {
			return fmt.Errorf("load %s provider: %w", e.provider.Name(), call.err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("load %s provider: %w", e.provider.Name(), ctx.Err())
	}
}

func (e *Engine) runLoad(ctx context.Context, call *loadCall) {
	start := time.Now()
	err := e.provider.Load(ctx)

	e.loadMu.Lock()
	if err != nil {
		e.state.Store(int32(StateFailed))
	} else {
		e.state.Store(int32(StateReady))
	}
	call.err = err
	e.loading = nil
	e.loadMu.Unlock()
	close(call.done)

	if err != nil {
		logger.Error("Generation engine failed to load", err, logger.Fields{"provider": e.provider.Name()})
		return
	}
	logger.Info("✅ Generation engine ready", logger.Fields{
		"provider":    e.provider.Name(),
		"workers":     e.opts.Workers,
		"max_retries": e.opts.MaxRetries,
		"load_ms":     time.Since(start).Milliseconds(),
	})
}

// progress is shared between Generate and its worker so a timeout can report partial work
type progress struct {
	mu       sync.Mutex
	attempts int
	failures []AttemptFailure
}

func (p *progress) record(f *AttemptFailure) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if f != nil {
		p.failures = append(p.failures, *f)
	}
}

func (p *progress) snapshot() (int, []AttemptFailure) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts, append([]AttemptFailure(nil), p.failures...)
}

// Generate returns a schedule for intent. The schedule always satisfies the
// validator's constraints. Errors are ErrEngineNotReady, or ErrGenerationTimeout
// when the timeout passes and timeout fallback is disabled.
func (e *Engine) Generate(ctx context.Context, intent string, durationMinutes int) (*Result, error) {
	if e.State() != StateReady {
		return nil, ErrEngineNotReady
	}
	e.requests.Add(1)
	start := time.Now()

	transaction := sentry.StartTransaction(ctx, "schedule.generate")
	defer transaction.Finish()
	transaction.SetTag("provider", e.provider.Name())
	ctx = transaction.Context()

	trace := e.tracer.StartTrace("schedule.generate", map[string]interface{}{
		"intent":           intent,
		"duration_minutes": durationMinutes,
	}, map[string]interface{}{"provider": e.provider.Name(), "model": e.opts.Model})

	genCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	prog := &progress{}
	resultCh := make(chan *Result, 1)
	go func() {
		resultCh <- e.run(genCtx, intent, durationMinutes, trace, prog)
	}()

	var result *Result
	select {
	case result = <-resultCh:
	case <-genCtx.Done():
	}

	if result == nil {
		e.timeouts.Add(1)
		attempts, failures := prog.snapshot()
		logger.Warn("Schedule generation timed out", logger.Fields{
			"intent":   intent,
			"timeout":  e.opts.Timeout.String(),
			"attempts": attempts,
			"fallback": e.opts.TimeoutFallback,
		})
		if !e.opts.TimeoutFallback {
			transaction.Status = sentry.SpanStatusDeadlineExceeded
			trace.Finish(map[string]interface{}{"error": ErrGenerationTimeout.Error()})
			return nil, fmt.Errorf("%w after %v", ErrGenerationTimeout, e.opts.Timeout)
		}
		result = e.fallback(intent, SourceTimeoutFallback, attempts, failures)
	}

	result.Duration = time.Since(start)
	switch result.Source {
	case SourceGenerated:
		e.generated.Add(1)
	case SourceFallback:
		e.fallbacks.Add(1)
	case SourceTimeoutFallback:
		e.timeoutFallbacks.Add(1)
	}

	transaction.Status = sentry.SpanStatusOK
	e.recorder.RecordGeneration(ctx, result.Source, result.Attempts, result.Duration)
	trace.Finish(map[string]interface{}{"source": result.Source, "attempts": result.Attempts, "schedule": result.Schedule})

	logger.Info("Schedule generated", logger.Fields{
		"intent":      intent,
		"source":      result.Source,
		"attempts":    result.Attempts,
		"steps":       len(result.Schedule.Steps),
		"duration_ms": result.Duration.Milliseconds(),
	})
	return result, nil
}

// run is the worker body. It returns nil when ctx ends before an outcome is reached.
func (e *Engine) run(ctx context.Context, intent string, durationMinutes int, trace *observability.Trace, prog *progress) *Result {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil
	}
	defer e.sem.Release(1)

	request := &llm.CompletionRequest{
		Prompt:       e.builder.Build(intent, durationMinutes),
		SystemPrompt: systemPrompt,
	}
	if e.opts.StructuredOutput {
		request.OutputSchema = llm.ScheduleOutputSchema()
	}

	maxAttempts := 1 + e.opts.MaxRetries
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil
		}

		sched, failure := e.attempt(ctx, attempt, request, trace)
		if ctx.Err() != nil && failure != nil {
			// a cancelled call is not the model's fault
			return nil
		}
		prog.record(failure)

		if failure == nil {
			attempts, failures := prog.snapshot()
			return &Result{Schedule: *sched, Source: SourceGenerated, Attempts: attempts, Failures: failures}
		}
	}

	attempts, failures := prog.snapshot()
	return e.fallback(intent, SourceFallback, attempts, failures)
}

// attempt performs one Complete → Sanitize → Validate pass
func (e *Engine) attempt(ctx context.Context, attempt int, request *llm.CompletionRequest, trace *observability.Trace) (*models.ModulationSchedule, *AttemptFailure) {
	e.attempts.Add(1)
	start := time.Now()

	span := sentry.StartSpan(ctx, "schedule.attempt")
	defer span.Finish()
	span.SetData("attempt", attempt)

	gen := trace.Generation(fmt.Sprintf("attempt-%d", attempt), e.opts.Model, request.Prompt, map[string]interface{}{"attempt": attempt})

	var (
		raw   string
		usage llm.TokenUsage
		sched *models.ModulationSchedule
	)
	resp, err := e.provider.Complete(span.Context(), request)
	if err == nil {
		raw = resp.Text
		usage = resp.Usage
		e.recorder.RecordTokenUsage(ctx, resp.Model, usage)
		sched, err = e.validator.Validate(e.sanitizer.Sanitize(raw))
	}

	duration := time.Since(start)
	category := schedule.Category(err)
	logger.LogScheduleAttempt(span.Context(), attempt, category, duration, raw, logger.Fields{"provider": e.provider.Name()})
	e.recorder.RecordAttempt(span.Context(), attempt, category, duration)
	gen.End(raw, usage, err != nil, map[string]interface{}{"category": category})

	if err != nil {
		e.failedAttempts.Add(1)
		span.Status = sentry.SpanStatusInvalidArgument
		return nil, &AttemptFailure{
			Attempt:  attempt,
			Category: category,
			Reason:   err.Error(),
			Raw:      logger.Truncate(raw, maxRawPreview),
			Duration: duration,
		}
	}

	span.Status = sentry.SpanStatusOK
	return sched, nil
}

const maxRawPreview = 200

func (e *Engine) fallback(intent, source string, attempts int, failures []AttemptFailure) *Result {
	sched, key := e.catalog.Match(intent)
	logger.Info("Using catalog schedule", logger.Fields{
		"intent":   intent,
		"key":      key,
		"source":   source,
		"attempts": attempts,
	})
	return &Result{Schedule: sched, Source: source, Attempts: attempts, Failures: failures}
}

// Stats returns a snapshot of the engine counters
func (e *Engine) Stats() Stats {
	return Stats{
		Requests:         e.requests.Load(),
		Generated:        e.generated.Load(),
		Fallbacks:        e.fallbacks.Load(),
		TimeoutFallbacks: e.timeoutFallbacks.Load(),
		Timeouts:         e.timeouts.Load(),
		Attempts:         e.attempts.Load(),
		FailedAttempts:   e.failedAttempts.Load(),
	}
}
