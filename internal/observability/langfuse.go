package observability

import (
	"context"
	"time"

	langfuse "github.com/henomis/langfuse-go"
	"github.com/henomis/langfuse-go/model"
	"github.com/neurotune/neurotune-api/internal/config"
	"github.com/neurotune/neurotune-api/internal/llm"
	"github.com/neurotune/neurotune-api/internal/logger"
)

const (
	levelDefault = "DEFAULT"
	levelWarning = "WARNING"
)

// LangfuseClient wraps the Langfuse client with our configuration.
// A disabled client hands out no-op traces so callers never branch.
type LangfuseClient struct {
	client  *langfuse.Langfuse
	enabled bool
}

// InitializeLangfuse creates a Langfuse client. The SDK reads LANGFUSE_HOST,
// LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY from the environment.
func InitializeLangfuse(ctx context.Context, cfg *config.Config) *LangfuseClient {
	if !cfg.LangfuseEnabled || cfg.LangfuseSecretKey == "" || cfg.LangfusePublicKey == "" {
		logger.Info("⚠️  Langfuse not configured", logger.Fields{"enabled": cfg.LangfuseEnabled})
		return Disabled()
	}

	lf := langfuse.New(ctx)
	logger.Info("✅ Langfuse initialized", logger.Fields{"host": cfg.LangfuseHost})
	return &LangfuseClient{client: lf, enabled: true}
}

// Disabled returns a client that records nothing
func Disabled() *LangfuseClient {
	return &LangfuseClient{}
}

// IsEnabled returns whether Langfuse is enabled
func (c *LangfuseClient) IsEnabled() bool {
	return c != nil && c.enabled && c.client != nil
}

// Flush sends queued events; call on shutdown
func (c *LangfuseClient) Flush(ctx context.Context) {
	if c.IsEnabled() {
		c.client.Flush(ctx)
	}
}

// StartTrace starts a new trace in Langfuse
func (c *LangfuseClient) StartTrace(name string, input any, metadata map[string]interface{}) *Trace {
	if !c.IsEnabled() {
		return &Trace{}
	}

	trace, err := c.client.Trace(&model.Trace{
		Name:     name,
		Input:    input,
		Metadata: metadata,
	})
	if err != nil {
		logger.Warn("Failed to create Langfuse trace", logger.Fields{"error": err.Error()})
		return &Trace{}
	}

	logger.Debug("Langfuse trace created", logger.Fields{"trace_id": trace.ID, "name": name})
	return &Trace{trace: trace, enabled: true, client: c.client}
}

// Trace represents a Langfuse trace
type Trace struct {
	trace   *model.Trace
	enabled bool
	client  *langfuse.Langfuse
}

// ID returns the trace ID, or "" when tracing is off
func (t *Trace) ID() string {
	if !t.enabled {
		return ""
	}
	return t.trace.ID
}

// Generation opens a generation observation within the trace
func (t *Trace) Generation(name, modelName string, input any, metadata map[string]interface{}) *Generation {
	if !t.enabled {
		return &Generation{}
	}

	now := time.Now()
	gen, err := t.client.Generation(&model.Generation{
		TraceID:   t.trace.ID,
		Name:      name,
		Model:     modelName,
		StartTime: &now,
		Input:     input,
		Metadata:  metadata,
	}, nil)
	if err != nil {
		logger.Warn("Failed to create Langfuse generation", logger.Fields{"error": err.Error()})
		return &Generation{}
	}

	return &Generation{generation: gen, enabled: true, client: t.client}
}

// Finish records the trace output
func (t *Trace) Finish(output any) {
	if !t.enabled {
		return
	}
	t.trace.Output = output
	if _, err := t.client.Trace(t.trace); err != nil {
		logger.Warn("Failed to update Langfuse trace", logger.Fields{"error": err.Error(), "trace_id": t.trace.ID})
	}
}

// Generation represents a Langfuse generation span
type Generation struct {
	generation *model.Generation
	enabled    bool
	client     *langfuse.Langfuse
}

// End closes the generation with its output, usage and outcome level
func (g *Generation) End(output string, usage llm.TokenUsage, failed bool, metadata map[string]interface{}) {
	if !g.enabled {
		return
	}

	now := time.Now()
	cost := CalculateCost(g.generation.Model, usage)
	g.generation.EndTime = &now
	g.generation.Output = output
	g.generation.Usage = model.Usage{
		Input:     usage.InputTokens,
		Output:    usage.OutputTokens,
		Total:     usage.TotalTokens,
		Unit:      model.ModelUsageUnitTokens,
		TotalCost: cost,
	}
	g.generation.Level = model.ObservationLevel(levelDefault)
	if failed {
		g.generation.Level = model.ObservationLevel(levelWarning)
	}

	md := map[string]interface{}{"cost_usd": cost, "reasoning_tokens": usage.ReasoningTokens}
	for k, v := range metadata {
		md[k] = v
	}
	g.generation.Metadata = md

	if _, err := g.client.GenerationEnd(g.generation); err != nil {
		logger.Warn("Failed to end Langfuse generation", logger.Fields{"error": err.Error()})
	}
}
