package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/neurotune/neurotune-api/internal/llm"
)

const (
	// HTTP status code threshold for considering a request successful
	successStatusCodeThreshold = http.StatusBadRequest
)

// SentryMetrics records metrics as Sentry spans and transaction data
type SentryMetrics struct {
	enabled bool
}

// NewSentryMetrics creates a new Sentry metrics client
func NewSentryMetrics(enabled bool) *SentryMetrics {
	return &SentryMetrics{enabled: enabled}
}

// RecordAPIRequest records API request metrics
func (m *SentryMetrics) RecordAPIRequest(ctx context.Context, endpoint string, statusCode int, duration time.Duration) {
	if !m.enabled {
		return
	}

	span := sentry.StartSpan(ctx, "api.request")
	defer span.Finish()

	span.SetTag("endpoint", endpoint)
	span.SetTag("status_code", fmt.Sprintf("%d", statusCode))
	span.SetTag("success", fmt.Sprintf("%t", statusCode < successStatusCodeThreshold))
	span.SetData("duration_ms", duration.Milliseconds())
	span.SetData("status_code", statusCode)

	if statusCode < successStatusCodeThreshold {
		span.Status = sentry.SpanStatusOK
	} else {
		span.Status = sentry.SpanStatusInternalError
	}
	span.Description = fmt.Sprintf("API Request: %s", endpoint)
}

// RecordTokenUsage adds token counts to the surrounding transaction
func (m *SentryMetrics) RecordTokenUsage(ctx context.Context, model string, usage llm.TokenUsage) {
	if !m.enabled {
		return
	}

	if transaction := sentry.TransactionFromContext(ctx); transaction != nil {
		transaction.SetTag("llm.model", model)
		transaction.SetData("llm.input_tokens", usage.InputTokens)
		transaction.SetData("llm.output_tokens", usage.OutputTokens)
		transaction.SetData("llm.total_tokens", usage.TotalTokens)
		transaction.SetData("llm.reasoning_tokens", usage.ReasoningTokens)
	}
}

// RecordAttempt tags the attempt span carried by ctx
func (m *SentryMetrics) RecordAttempt(ctx context.Context, attempt int, category string, duration time.Duration) {
	if !m.enabled {
		return
	}

	span := sentry.SpanFromContext(ctx)
	if span == nil {
		return
	}
	span.SetTag("category", category)
	span.SetData("duration_ms", duration.Milliseconds())
	span.Description = fmt.Sprintf("Attempt %d: %s", attempt, category)
}

// RecordGeneration records the outcome of one Generate call
func (m *SentryMetrics) RecordGeneration(ctx context.Context, source string, attempts int, duration time.Duration) {
	if !m.enabled {
		return
	}

	if transaction := sentry.TransactionFromContext(ctx); transaction != nil {
		transaction.SetTag("schedule.source", source)
		transaction.SetData("schedule.attempts", attempts)
		transaction.SetData("schedule.duration_ms", duration.Milliseconds())
	}
}
