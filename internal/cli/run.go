package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/keel/internal/coordinator"
	"github.com/roach88/keel/internal/executor"
	"github.com/roach88/keel/internal/snapshot"
	"github.com/roach88/keel/internal/store"
	"github.com/roach88/keel/internal/verify"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database    string
	ConfigPath  string
	SnapshotDir string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <plan.cue>",
		Short: "Execute a batch plan",
		Long: `Execute a CUE batch plan against the durable store.

The plan declares a strategy, an ordered list of operations, and
optional verification predicates. Operations execute in order; on
failure the strategy decides how much committed work is compensated.
When the plan requests a snapshot, it is captured before any operation
runs and becomes the preferred rollback path if verification rejects
the result.

Example:
  keel run --db ./keel.db ./plans/rename.cue
  keel run --db ./keel.db --config ./keel.yaml ./plans/rename.cue --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.SnapshotDir, "snapshots", "", "snapshot directory (default: <db dir>/snapshots)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runPlan(opts *RunOptions, planPath string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := loadOptionalConfig(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	slog.Info("loading plan", "path", planPath)
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

	// Cost gate: refuse submission while the external signal is hot.
	if cfg != nil && cfg.CostGate != nil && plan.Identity != "" {
		gate, err := coordinator.NewCostGate(&fileCostSource{path: cfg.CostGate.SourceFile}, cfg.CostGate.gateConfig())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to configure cost gate", err)
		}
		if err := gate.ShouldProceed(ctx, plan.Identity); err != nil {
			return WrapExitError(ExitFailure, "cost gate refused submission", err)
		}
	}

	coord := coordinator.New(st, localGroundTruth{})
	deps := &ActionDeps{Store: st, Coordinator: coord}

	batch := &executor.Batch{ID: plan.BatchID}
	for i, planOp := range plan.Operations {
		op, err := BuildOperation(deps, planOp)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("operations[%d]", i), err)
		}
		batch.Operations = append(batch.Operations, op)
	}

	// Pre-batch snapshot, when requested.
	var snaps *snapshot.Manager
	var snapshotID string
	if len(plan.Snapshot) > 0 {
		snaps, err = snapshot.NewManager(snapshotDir(opts))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open snapshot directory", err)
		}
		snapshotID = "pre-" + executor.UUIDv7Generator{}.Generate()
		if _, err := snaps.Create(plan.Snapshot, snapshotID, map[string]string{"plan": planPath}); err != nil {
			return WrapExitError(ExitCommandError, "failed to capture snapshot", err)
		}
		slog.Info("snapshot captured", "id", snapshotID, "resources", len(plan.Snapshot))
	}

	exec := executor.New(st, executorOptions(cfg)...)
	slog.Info("submitting batch", "strategy", strategy, "operations", len(batch.Operations))
	result, err := exec.Submit(ctx, batch, strategy)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to submit batch", err)
	}

	summary := summarize(result)
	summary.Snapshot = snapshotID

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if result.Status != executor.BatchSuccess && result.Status != executor.BatchPartial {
		if outputErr := formatter.Success(summary); outputErr != nil {
			return outputErr
		}
		return NewExitError(ExitFailure, fmt.Sprintf("batch %s: %s", result.BatchID, result.FailureCause))
	}

	// Verification gate: independent evidence, never operation output.
	if len(plan.Verify) > 0 {
		gate := verify.New(gateOptions(cfg)...)
		decision := gate.Verify(ctx, buildPredicates(st, plan.Verify))
		summary.Verification = verificationLabel(decision)

		if !decision.Commit {
			method, rollbackErr := verify.NewReverter(st, snaps).Rollback(ctx, verify.RollbackRequest{
				SnapshotID: snapshotID,
				DocumentID: plan.Document,
				Batch:      batch,
			})
			if rollbackErr != nil {
				return WrapExitError(ExitFailure, "verification rejected and rollback failed", rollbackErr)
			}
			summary.Rollback = string(method)
			if outputErr := formatter.Success(summary); outputErr != nil {
				return outputErr
			}
			failed := decision.FirstNonPass()
			return NewExitError(ExitFailure, fmt.Sprintf("verification rejected commit: %s (%s)", failed.Name, failed.Evidence))
		}
	}

	return formatter.Success(summary)
}

// setupLogging configures the default slog handler for CLI commands.
// Diagnostics go to stderr so they never corrupt stdout output.
func setupLogging(verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

func loadOptionalConfig(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	return LoadConfig(path)
}

func openStore(path string, cfg *Config) (*store.Store, error) {
	var storeOpts []store.Option
	if cfg != nil {
		if cfg.BackupGenerations > 0 {
			storeOpts = append(storeOpts, store.WithBackupGenerations(cfg.BackupGenerations))
		}
		if cfg.LockTTL > 0 {
			storeOpts = append(storeOpts, store.WithLockTTL(time.Duration(cfg.LockTTL)))
		}
	}
	return store.Open(path, storeOpts...)
}

func executorOptions(cfg *Config) []executor.Option {
	var execOpts []executor.Option
	if cfg == nil {
		return execOpts
	}
	if cfg.OperationTimeout > 0 {
		execOpts = append(execOpts, executor.WithOperationTimeout(time.Duration(cfg.OperationTimeout)))
	}
	if cfg.BatchTimeout > 0 {
		execOpts = append(execOpts, executor.WithBatchTimeout(time.Duration(cfg.BatchTimeout)))
	}
	if cfg.CheckpointInterval > 0 {
		execOpts = append(execOpts, executor.WithCheckpointInterval(cfg.CheckpointInterval))
	}
	return execOpts
}

func gateOptions(cfg *Config) []verify.Option {
	if cfg == nil || cfg.PredicateTimeout <= 0 {
		return nil
	}
	return []verify.Option{verify.WithPredicateTimeout(time.Duration(cfg.PredicateTimeout))}
}

func snapshotDir(opts *RunOptions) string {
	if opts.SnapshotDir != "" {
		return opts.SnapshotDir
	}
	return filepath.Join(filepath.Dir(opts.Database), "snapshots")
}

func verificationLabel(d *verify.Decision) string {
	if d.Commit {
		return "committed"
	}
	return "rejected"
}

// localGroundTruth serves plans with no external system behind an
// identity. The tracked sequence value is authoritative.
type localGroundTruth struct{}

func (localGroundTruth) ConfirmedSequence(context.Context, string) (uint64, error) {
	return 0, nil
}

// fileCostSource reads the current cost from a file whose content is a
// single number. It is the polled signal behind the CLI's cost gate.
type fileCostSource struct {
	path string
}

func (s *fileCostSource) Cost(ctx context.Context, identity string) (float64, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("read cost signal: %w", err)
	}
	cost, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse cost signal %s: %w", s.path, err)
	}
	return cost, nil
}

// batchSummary is the run/resume output payload.
type batchSummary struct {
	BatchID      string             `json:"batch_id"`
	Strategy     string             `json:"strategy"`
	Status       string             `json:"status"`
	Operations   []operationSummary `json:"operations"`
	Snapshot     string             `json:"snapshot,omitempty"`
	Verification string             `json:"verification,omitempty"`
	Rollback     string             `json:"rollback,omitempty"`
	FailureCause string             `json:"failure_cause,omitempty"`
}

type operationSummary struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func summarize(result *executor.BatchResult) *batchSummary {
	summary := &batchSummary{
		BatchID:      result.BatchID,
		Strategy:     string(result.Strategy),
		Status:       string(result.Status),
		FailureCause: result.FailureCause,
	}
	for _, op := range result.Operations {
		summary.Operations = append(summary.Operations, operationSummary{
			ID:     op.ID,
			Status: string(op.Status),
			Error:  op.Error,
		})
	}
	return summary
}

func (s *batchSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "batch %s: %s (%s)\n", s.BatchID, s.Status, s.Strategy)
	for _, op := range s.Operations {
		if op.Error != "" {
			fmt.Fprintf(&b, "  %-12s %s  %s\n", op.Status, op.ID, op.Error)
			continue
		}
		fmt.Fprintf(&b, "  %-12s %s\n", op.Status, op.ID)
	}
	if s.Snapshot != "" {
		fmt.Fprintf(&b, "snapshot: %s\n", s.Snapshot)
	}
	if s.Verification != "" {
		fmt.Fprintf(&b, "verification: %s\n", s.Verification)
	}
	if s.Rollback != "" {
		fmt.Fprintf(&b, "rollback: %s\n", s.Rollback)
	}
	return strings.TrimRight(b.String(), "\n")
}
