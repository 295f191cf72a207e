package metrics

import (
	"context"
	"time"

	"github.com/neurotune/neurotune-api/internal/llm"
)

// Recorder receives API and generation metrics
type Recorder interface {
	RecordAPIRequest(ctx context.Context, endpoint string, statusCode int, duration time.Duration)
	RecordTokenUsage(ctx context.Context, model string, usage llm.TokenUsage)
	RecordAttempt(ctx context.Context, attempt int, category string, duration time.Duration)
	RecordGeneration(ctx context.Context, source string, attempts int, duration time.Duration)
}

// Multi fans every call out to each recorder
type Multi []Recorder

// RecordAPIRequest implements Recorder
func (m Multi) RecordAPIRequest(ctx context.Context, endpoint string, statusCode int, duration time.Duration) {
	for _, r := range m {
		r.RecordAPIRequest(ctx, endpoint, statusCode, duration)
	}
}

// RecordTokenUsage implements Recorder
func (m Multi) RecordTokenUsage(ctx context.Context, model string, usage llm.TokenUsage) {
	for _, r := range m {
		r.RecordTokenUsage(ctx, model, usage)
	}
}

// RecordAttempt implements Recorder
func (m Multi) RecordAttempt(ctx context.Context, attempt int, category string, duration time.Duration) {
	for _, r := range m {
		r.RecordAttempt(ctx, attempt, category, duration)
	}
}

// RecordGeneration implements Recorder
func (m Multi) RecordGeneration(ctx context.Context, source string, attempts int, duration time.Duration) {
	for _, r := range m {
		r.RecordGeneration(ctx, source, attempts, duration)
	}
}

// Nop discards everything
type Nop struct{}

func (Nop) RecordAPIRequest(context.Context, string, int, time.Duration) {}
func (Nop) RecordTokenUsage(context.Context, string, llm.TokenUsage) {}
func (Nop) RecordAttempt(context.Context, int, string, time.Duration) {}
func (Nop) RecordGeneration(context.Context, string, int, time.Duration) {}
