package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/neurotune/neurotune-api/internal/config"
	"github.com/neurotune/neurotune-api/internal/engine"
	"github.com/neurotune/neurotune-api/internal/llm"
	"github.com/neurotune/neurotune-api/internal/logger"
	"github.com/neurotune/neurotune-api/internal/schedule"
	"github.com/spf13/cobra"
)

type generateOptions struct {
	intent  string
	minutes int
	format  string
	offline bool
	verbose bool
}

func newGenerateCmd() *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a schedule for an intent",
		Long: `Runs one generation with the configured LLM provider and prints the schedule.
With --offline the catalog schedule for the intent is printed instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.intent, "intent", "i", "", "what the session is for, e.g. \"deep focus\"")
	cmd.Flags().IntVarP(&opts.minutes, "minutes", "m", 25, "session length in minutes (1-120)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatJSON, "output format: json or yaml")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "skip the model and use the fallback catalog")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log attempts to stderr")
	_ = cmd.MarkFlagRequired("intent")
	return cmd
}

func runGenerate(cmd *cobra.Command, opts *generateOptions) error {
	if opts.minutes < 1 || opts.minutes > 120 {
		return fmt.Errorf("--minutes must be between 1 and 120, got %d", opts.minutes)
	}

	if opts.offline {
		sched, key := schedule.DefaultCatalog().Match(opts.intent)
		return writeFormatted(cmd.OutOrStdout(), opts.format, map[string]any{
			"source":      engine.SourceFallback,
			"catalog_key": key,
			"schedule":    sched,
		})
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level := "error"
	if opts.verbose {
		level = "debug"
	}
	logger.Init(level)
	defer logger.Sync()

	provider, err := llm.NewProviderFactory(cfg.OpenAIAPIKey, cfg.GeminiAPIKey, llm.Settings{
		BaseURL:      cfg.LLMBaseURL,
		Model:        cfg.LLMModel,
		MaxNewTokens: cfg.LLMMaxNewTokens,
		Temperature:  cfg.LLMTemperature,
		TopP:         cfg.LLMTopP,
		MaxParallel:  1,
		VerifyOnLoad: cfg.LLMVerifyOnLoad,
	}).GetProvider(cfg.LLMProvider)
	if err != nil {
		return err
	}

	eng := engine.New(provider, engine.Options{
		Model:              cfg.LLMModel,
		MaxRetries:         cfg.LLMMaxRetries,
		Timeout:            cfg.LLMTimeout,
		TimeoutFallback:    cfg.LLMTimeoutFallback,
		Workers:            1,
		StrictTiming:       cfg.ScheduleStrictTiming,
		AlignmentTolerance: cfg.ScheduleAlignmentTolerance,
		StructuredOutput:   cfg.LLMStructuredOutput,
	})

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := eng.Load(ctx); err != nil {
		return err
	}

	result, err := eng.Generate(ctx, opts.intent, opts.minutes)
	if errors.Is(err, engine.ErrGenerationTimeout) {
		return fmt.Errorf("no schedule within %s; raise LLM_TIMEOUT or enable LLM_TIMEOUT_FALLBACK", cfg.LLMTimeout)
	}
	if err != nil {
		return err
	}

	return writeFormatted(cmd.OutOrStdout(), opts.format, map[string]any{
		"source":      result.Source,
		"attempts":    result.Attempts,
		"duration_ms": result.Duration.Milliseconds(),
		"schedule":    result.Schedule,
	})
}
