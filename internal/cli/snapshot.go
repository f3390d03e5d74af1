package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/keel/internal/executor"
	"github.com/roach88/keel/internal/snapshot"
)

// SnapshotOptions holds flags shared by the snapshot subcommands.
type SnapshotOptions struct {
	*RootOptions
	Dir string
}

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage point-in-time resource snapshots",
		Long: `Manage point-in-time snapshots of file resources.

Snapshots are content-addressed copies taken outside the document
store, used as the preferred rollback path after a rejected batch.
Restore verifies stored hashes before touching any live resource.`,
	}

	cmd.PersistentFlags().StringVar(&opts.Dir, "dir", "", "snapshot directory (required)")
	_ = cmd.MarkPersistentFlagRequired("dir")

	cmd.AddCommand(newSnapshotCreateCommand(opts))
	cmd.AddCommand(newSnapshotRestoreCommand(opts))
	cmd.AddCommand(newSnapshotDeleteCommand(opts))
	cmd.AddCommand(newSnapshotListCommand(opts))

	return cmd
}

func newSnapshotCreateCommand(opts *SnapshotOptions) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:           "create <resource>...",
		Short:         "Capture a snapshot of the given resources",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(opts.Verbose)
			snaps, err := snapshot.NewManager(opts.Dir)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open snapshot directory", err)
			}
			if id == "" {
				id = executor.UUIDv7Generator{}.Generate()
			}
			snap, err := snaps.Create(args, id, nil)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to capture snapshot", err)
			}
			return snapshotFormatter(opts, cmd).Success(snapshotSummary{
				ID:        snap.ID,
				Resources: len(snap.Entries),
				Skipped:   snap.Skipped,
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "snapshot ID (default: generated)")
	return cmd
}

func newSnapshotRestoreCommand(opts *SnapshotOptions) *cobra.Command {
	var skipVerify bool
	cmd := &cobra.Command{
		Use:           "restore <snapshot-id>",
		Short:         "Restore every resource in a snapshot",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(opts.Verbose)
			snaps, err := snapshot.NewManager(opts.Dir)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open snapshot directory", err)
			}
			if err := snaps.Restore(args[0], !skipVerify); err != nil {
				return WrapExitError(ExitFailure, "failed to restore snapshot", err)
			}
			return snapshotFormatter(opts, cmd).Success(fmt.Sprintf("restored snapshot %s", args[0]))
		},
	}
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "skip content-hash verification before restore")
	return cmd
}

func newSnapshotDeleteCommand(opts *SnapshotOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <snapshot-id>",
		Short:         "Delete a snapshot",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(opts.Verbose)
			snaps, err := snapshot.NewManager(opts.Dir)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open snapshot directory", err)
			}
			if err := snaps.Delete(args[0]); err != nil {
				return WrapExitError(ExitFailure, "failed to delete snapshot", err)
			}
			return snapshotFormatter(opts, cmd).Success(fmt.Sprintf("deleted snapshot %s", args[0]))
		},
	}
}

func newSnapshotListCommand(opts *SnapshotOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List snapshot IDs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(opts.Verbose)
			snaps, err := snapshot.NewManager(opts.Dir)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open snapshot directory", err)
			}
			ids, err := snaps.List()
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list snapshots", err)
			}
			return snapshotFormatter(opts, cmd).Success(snapshotList(ids))
		},
	}
}

func snapshotFormatter(opts *SnapshotOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

type snapshotSummary struct {
	ID        string   `json:"id"`
	Resources int      `json:"resources"`
	Skipped   []string `json:"skipped,omitempty"`
}

func (s snapshotSummary) String() string {
	if len(s.Skipped) > 0 {
		return fmt.Sprintf("snapshot %s: %d resources (%d skipped)", s.ID, s.Resources, len(s.Skipped))
	}
	return fmt.Sprintf("snapshot %s: %d resources", s.ID, s.Resources)
}

type snapshotList []string

func (l snapshotList) String() string {
	if len(l) == 0 {
		return "no snapshots"
	}
	return strings.Join(l, "\n")
}
