package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/keel/internal/coordinator"
	"github.com/roach88/keel/internal/executor"
)

// ResumeOptions holds flags for the resume command.
type ResumeOptions struct {
	*RootOptions
	Database    string
	ConfigPath  string
	BatchID     string
	From        string
	RetryFailed bool
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResumeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resume <plan.cue>",
		Short: "Resume an interrupted batch",
		Long: `Resume an interrupted batch from a chosen operation.

The change log is the source of truth: operations the log records as
succeeded are not re-executed and are not compensation candidates in
the resumed session. Rolled-back operations at or after the resume
point re-run; failed operations re-run only with --retry-failed.

The plan file must be the same plan the batch was submitted from, so
operation definitions line up with the logged IDs.

Example:
  keel resume --db ./keel.db --batch rename-config --from op3 ./plans/rename.cue
  keel resume --db ./keel.db --batch rename-config --from op3 --retry-failed ./plans/rename.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return resumePlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.BatchID, "batch", "", "batch ID to resume (required)")
	cmd.Flags().StringVar(&opts.From, "from", "", "operation ID to resume from (required)")
	cmd.Flags().BoolVar(&opts.RetryFailed, "retry-failed", false, "re-run operations the log records as failed")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("batch")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}

func resumePlan(opts *ResumeOptions, planPath string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := loadOptionalConfig(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	plan, err := LoadPlan(planPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load plan", err)
	}
	strategy, _ := executor.ParseStrategy(plan.Strategy)

	st, err := openStore(opts.Database, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	coord := coordinator.New(st, localGroundTruth{})
	deps := &ActionDeps{Store: st, Coordinator: coord}

	batch := &executor.Batch{ID: opts.BatchID}
	for i, planOp := range plan.Operations {
		op, err := BuildOperation(deps, planOp)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("operations[%d]", i), err)
		}
		batch.Operations = append(batch.Operations, op)
	}

	exec := executor.New(st, executorOptions(cfg)...)
	slog.Info("resuming batch", "batch", opts.BatchID, "from", opts.From, "retry_failed", opts.RetryFailed)
	result, err := exec.Resume(ctx, batch, opts.From, opts.RetryFailed, strategy)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resume batch", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if outputErr := formatter.Success(summarize(result)); outputErr != nil {
		return outputErr
	}

	if result.Status != executor.BatchSuccess && result.Status != executor.BatchPartial {
		return NewExitError(ExitFailure, fmt.Sprintf("batch %s: %s", result.BatchID, result.FailureCause))
	}
	return nil
}
