package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neurotune/neurotune-api/internal/llm"
	"github.com/neurotune/neurotune-api/internal/metrics"
	"github.com/neurotune/neurotune-api/internal/models"
	"github.com/neurotune/neurotune-api/internal/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sleepSchedule = `{"intent":"sleep","total_duration_sec":1200,"steps":[
{"timestamp_sec":0,"target_bpm":60,"binaural_freq":6,"ramp_duration_sec":60,"layer":"binaural"},
{"timestamp_sec":300,"target_bpm":55,"binaural_freq":4,"ramp_duration_sec":180,"layer":"binaural"},
{"timestamp_sec":900,"target_bpm":50,"binaural_freq":2,"ramp_duration_sec":300,"layer":"binaural"}]}`

// fakeProvider replays scripted completions. The last entry repeats.
type fakeProvider struct {
	mu        sync.Mutex
	outputs   []string
	errs      []error
	calls     int
	loads     atomic.Int32
	loadErr   error
	loadDelay time.Duration
	loadGate  chan struct{} // when set, Load waits for it and ignores ctx
	block     bool
	limit     int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Load(ctx context.Context) error {
	f.loads.Add(1)
	if f.loadGate != nil {
		<-f.loadGate
		return f.loadErr
	}
	if f.loadDelay > 0 {
		select {
		case <-time.After(f.loadDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.loadErr
}

func (f *fakeProvider) Complete(ctx context.Context, _ *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if len(f.outputs) == 0 {
		return &llm.CompletionResponse{}, nil
	}
	if i >= len(f.outputs) {
		i = len(f.outputs) - 1
	}
	return &llm.CompletionResponse{Text: f.outputs[i], Model: "fake-model"}, nil
}

func (f *fakeProvider) MaxConcurrency() int { return f.limit }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newReadyEngine(t *testing.T, p *fakeProvider, opts Options, options ...Option) *Engine {
	t.Helper()
	e := New(p, opts, options...)
	require.NoError(t, e.Load(context.Background()))
	return e
}

func TestGenerateBeforeLoadIsNotReady(t *testing.T) {
	p := &fakeProvider{outputs: []string{sleepSchedule}}
	e := New(p, DefaultOptions())

	assert.Equal(t, StateUninitialized, e.State())
	_, err := e.Generate(context.Background(), "sleep", 20)
	assert.ErrorIs(t, err, ErrEngineNotReady)
	assert.Zero(t, p.callCount())
}

func TestLoadIsIdempotentUnderConcurrency(t *testing.T) {
	p := &fakeProvider{loadDelay: 20 * time.Millisecond}
	e := New(p, DefaultOptions())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Load(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), p.loads.Load())
	assert.Equal(t, StateReady, e.State())
	require.NoError(t, e.Load(context.Background()))
	assert.Equal(t, int32(1), p.loads.Load())
}

func TestLoadFailureAllowsRetry(t *testing.T) {
	p := &fakeProvider{loadErr: errors.New("weights missing")}
	e := New(p, DefaultOptions())

	err := e.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights missing")
	assert.Equal(t, StateFailed, e.State())

	_, err = e.Generate(context.Background(), "focus", 25)
	assert.ErrorIs(t, err, ErrEngineNotReady)

	p.loadErr = nil
	require.NoError(t, e.Load(context.Background()))
	assert.Equal(t, StateReady, e.State())
}

func TestLoadHonoursContext(t *testing.T) {
	p := &fakeProvider{loadDelay: time.Minute}
	e := New(p, DefaultOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := e.Load(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Eventually(t, func() bool { return e.State() == StateFailed }, time.Second, 5*time.Millisecond)
}

func TestLoadWaitsForInFlightProviderLoad(t *testing.T) {
	gate := make(chan struct{})
	p := &fakeProvider{loadGate: gate}
	e := New(p, DefaultOptions())

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		err := e.Load(ctx)
		cancel()
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, StateLoading, e.State())
	}
	assert.Equal(t, int32(1), p.loads.Load(), "a retry must not start a second provider load")

	close(gate)
	require.NoError(t, e.Load(context.Background()))
	assert.Equal(t, StateReady, e.State())
	assert.Equal(t, int32(1), p.loads.Load())
}

func TestGenerateReturnsValidModelOutput(t *testing.T) {
	p := &fakeProvider{outputs: []string{"<think>deep sleep wants delta</think>\n" + sleepSchedule}}
	e := newReadyEngine(t, p, DefaultOptions())

	result, err := e.Generate(context.Background(), "sleep", 20)
	require.NoError(t, err)

	assert.Equal(t, SourceGenerated, result.Source)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, result.Failures)

	var want models.ModulationSchedule
	require.NoError(t, json.Unmarshal([]byte(sleepSchedule), &want))
	assert.Equal(t, want, result.Schedule, "model output is returned unchanged")
}

func TestGenerateRetryBudgetThenFallback(t *testing.T) {
	p := &fakeProvider{outputs: []string{"I cannot produce JSON today."}}
	e := newReadyEngine(t, p, DefaultOptions())

	result, err := e.Generate(context.Background(), "sleep", 20)
	require.NoError(t, err)

	assert.Equal(t, 3, p.callCount(), "one attempt plus two retries")
	assert.Equal(t, SourceFallback, result.Source)
	assert.Equal(t, 3, result.Attempts)
	require.Len(t, result.Failures, 3)
	for i, f := range result.Failures {
		assert.Equal(t, i+1, f.Attempt)
		assert.Equal(t, "malformed_payload", f.Category)
	}

	assert.Equal(t, schedule.DefaultCatalog().Lookup("sleep"), result.Schedule)
	assert.Equal(t, 1500, result.Schedule.TotalDurationSec)
	assert.Equal(t, 45, result.Schedule.Steps[3].TargetBPM)
}

func TestGenerateRetryBudgetFollowsMaxRetries(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxRetries = 0
	p := &fakeProvider{outputs: []string{"{}"}}
	e := newReadyEngine(t, p, opts)

	result, err := e.Generate(context.Background(), "focus", 25)
	require.NoError(t, err)
	assert.Equal(t, 1, p.callCount())
	assert.Equal(t, SourceFallback, result.Source)
	assert.Equal(t, "constraint_violation", result.Failures[0].Category)
}

func TestGenerateRecoversOnLaterAttempt(t *testing.T) {
	outOfRange := `{"intent":"sleep","total_duration_sec":1200,"steps":[{"timestamp_sec":0,"target_bpm":500,"binaural_freq":6,"ramp_duration_sec":60,"layer":"binaural"}]}`
	p := &fakeProvider{
		errs:    []error{errors.New("connection reset")},
		outputs: []string{"", outOfRange, sleepSchedule},
	}
	e := newReadyEngine(t, p, DefaultOptions())

	result, err := e.Generate(context.Background(), "sleep", 20)
	require.NoError(t, err)

	assert.Equal(t, SourceGenerated, result.Source)
	assert.Equal(t, 3, result.Attempts)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, "provider_error", result.Failures[0].Category)
	assert.Equal(t, "constraint_violation", result.Failures[1].Category)
	assert.Contains(t, result.Failures[1].Reason, "target_bpm")
}

func TestGenerateTimeoutFallsBackToCatalog(t *testing.T) {
	opts := DefaultOptions()
	opts.Timeout = 30 * time.Millisecond
	p := &fakeProvider{block: true}
	e := newReadyEngine(t, p, opts)

	result, err := e.Generate(context.Background(), "help me relax", 25)
	require.NoError(t, err)

	assert.Equal(t, SourceTimeoutFallback, result.Source)
	assert.Equal(t, schedule.DefaultCatalog().Lookup("relax"), result.Schedule)
	assert.Equal(t, int64(1), e.Stats().Timeouts)
	assert.Equal(t, int64(1), e.Stats().TimeoutFallbacks)
}

func TestGenerateTimeoutWithoutFallback(t *testing.T) {
	opts := DefaultOptions()
	opts.Timeout = 30 * time.Millisecond
	opts.TimeoutFallback = false
	p := &fakeProvider{block: true}
	e := newReadyEngine(t, p, opts)

	result, err := e.Generate(context.Background(), "focus", 25)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrGenerationTimeout)
}

func TestGenerateCallerCancellationActsAsTimeout(t *testing.T) {
	opts := DefaultOptions()
	opts.TimeoutFallback = false
	p := &fakeProvider{block: true}
	e := newReadyEngine(t, p, opts)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := e.Generate(ctx, "focus", 25)
	assert.ErrorIs(t, err, ErrGenerationTimeout)
}

func TestWorkersCappedByProviderLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.Workers = 8
	p := &fakeProvider{outputs: []string{sleepSchedule}, limit: 1}
	e := newReadyEngine(t, p, opts)
	assert.Equal(t, 1, e.Options().Workers)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Generate(context.Background(), "sleep", 20)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), p.maxInFlight.Load())
	assert.Equal(t, int64(6), e.Stats().Generated)
}

type countingRecorder struct {
	metrics.Nop
	mu          sync.Mutex
	categories  []string
	sources     []string
	tokenModels []string
}

func (r *countingRecorder) RecordAttempt(_ context.Context, _ int, category string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories = append(r.categories, category)
}

func (r *countingRecorder) RecordGeneration(_ context.Context, source string, _ int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, source)
}

func (r *countingRecorder) RecordTokenUsage(_ context.Context, model string, _ llm.TokenUsage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokenModels = append(r.tokenModels, model)
}

func TestGenerateRecordsMetrics(t *testing.T) {
	rec := &countingRecorder{}
	p := &fakeProvider{outputs: []string{"nope", sleepSchedule}}
	e := newReadyEngine(t, p, DefaultOptions(), WithRecorder(rec))

	_, err := e.Generate(context.Background(), "sleep", 20)
	require.NoError(t, err)

	assert.Equal(t, []string{"malformed_payload", "ok"}, rec.categories)
	assert.Equal(t, []string{SourceGenerated}, rec.sources)
	assert.Equal(t, []string{"fake-model", "fake-model"}, rec.tokenModels)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.Requests)
	assert.Equal(t, int64(2), stats.Attempts)
	assert.Equal(t, int64(1), stats.FailedAttempts)
}

func TestAdvisoryTimingAcceptsUnalignedSchedule(t *testing.T) {
	unaligned := `{"intent":"focus","total_duration_sec":3600,"steps":[{"timestamp_sec":10,"target_bpm":80,"binaural_freq":14,"ramp_duration_sec":60,"layer":"binaural"}]}`

	strict := newReadyEngine(t, &fakeProvider{outputs: []string{unaligned}}, DefaultOptions())
	result, err := strict.Generate(context.Background(), "focus", 60)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, result.Source)

	opts := DefaultOptions()
	opts.StrictTiming = false
	advisory := newReadyEngine(t, &fakeProvider{outputs: []string{unaligned}}, opts)
	result, err = advisory.Generate(context.Background(), "focus", 60)
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, result.Source)
}

var rawFragments = []string{
	sleepSchedule,
	"<think>reasoning</think>" + sleepSchedule,
	"Here you go: " + sleepSchedule + " enjoy",
	`{"intent":"x","total_duration_sec":30,"steps":[]}`,
	`{"intent":"x","total_duration_sec":1200,"steps":[{"timestamp_sec":0,"target_bpm":39,"binaural_freq":6,"ramp_duration_sec":60,"layer":"binaural"}]}`,
	`{"intent":"x","total_duration_sec":1200,"steps":[{"timestamp_sec":0,"target_bpm":60,"binaural_freq":41,"ramp_duration_sec":60,"layer":"binaural"}]}`,
	`{"intent":"x","total_duration_sec":1200,"steps":[{"timestamp_sec":0,"target_bpm":60,"binaural_freq":6,"ramp_duration_sec":60,"layer":"gamma"}]}`,
	`{"intent":"x","total_duration_sec":1200,"steps":[{"timestamp_sec":0`,
	"<think>unterminated",
	"[1,2,3]",
	"",
}

func TestGeneratedSchedulesAlwaysSatisfyConstraints(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	check := schedule.NewValidator(schedule.WithStrictTiming(schedule.DefaultAlignmentTolerance))
	intents := []string{"focus", "relax", "sleep", "study hard", "nap", "anything"}

	for i := 0; i < 200; i++ {
		outputs := make([]string, 3)
		for j := range outputs {
			outputs[j] = rawFragments[rng.Intn(len(rawFragments))]
		}
		e := newReadyEngine(t, &fakeProvider{outputs: outputs}, DefaultOptions())

		result, err := e.Generate(context.Background(), intents[rng.Intn(len(intents))], 25)
		require.NoError(t, err)
		require.NoError(t, check.Check(&result.Schedule), "case %d outputs %q", i, outputs)
		assert.LessOrEqual(t, result.Attempts, 3)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
