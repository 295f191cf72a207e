package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/neurotune/neurotune-api/internal/models"
	"github.com/neurotune/neurotune-api/internal/schedule"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newValidateCmd() *cobra.Command {
	var (
		strict    bool
		tolerance float64
	)
	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a schedule file against the schedule constraints",
		Long: `Validates a schedule stored as JSON or YAML (.yaml/.yml).
JSON input may be raw model output; reasoning blocks and surrounding prose are stripped first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			var opts []schedule.ValidatorOption
			if strict {
				opts = append(opts, schedule.WithStrictTiming(tolerance))
			}
			sched, err := validateDocument(schedule.NewValidator(opts...), args[0], data)
			if err != nil {
				return fmt.Errorf("%s: %s: %w", args[0], schedule.Category(err), err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d steps, %ds, intent %q)\n",
				args[0], len(sched.Steps), sched.TotalDurationSec, sched.Intent)
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "require the last ramp to end at total_duration_sec")
	cmd.Flags().Float64Var(&tolerance, "tolerance", schedule.DefaultAlignmentTolerance, "allowed misalignment as a fraction of total_duration_sec")
	return cmd
}

func validateDocument(v *schedule.Validator, path string, data []byte) (*models.ModulationSchedule, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var sched models.ModulationSchedule
		if err := yaml.Unmarshal(data, &sched); err != nil {
			return nil, &schedule.ValidationError{Kind: schedule.ErrMalformedPayload, Err: err}
		}
		if err := v.Check(&sched); err != nil {
			return nil, err
		}
		return &sched, nil
	default:
		return v.Validate(schedule.Sanitize(string(data)))
	}
}
