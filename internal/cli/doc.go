package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/keel/internal/store"
)

// DocOptions holds flags shared by the doc subcommands.
type DocOptions struct {
	*RootOptions
	Database   string
	ConfigPath string
}

// NewDocCommand creates the doc command group.
func NewDocCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DocOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Inspect and roll back stored documents",
		Long: `Inspect stored documents, their backup history, and roll a
document back by reintroducing a prior backup generation as a new
version. Rolling back never rewrites history; the pre-rollback content
itself enters the backup ring first.`,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(newDocReadCommand(opts))
	cmd.AddCommand(newDocHistoryCommand(opts))
	cmd.AddCommand(newDocRestoreCommand(opts))

	return cmd
}

func newDocReadCommand(opts *DocOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "read <document-id>",
		Short:         "Print a document's current content",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocStore(opts, cmd, func(ctx context.Context, st *store.Store) error {
				content, version, err := st.Read(ctx, args[0])
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read document", err)
				}
				return docFormatter(opts, cmd).Success(docContent{
					DocumentID: args[0],
					Version:    version,
					Content:    string(content),
				})
			})
		},
	}
}

func newDocHistoryCommand(opts *DocOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "history <document-id>",
		Short:         "List a document's backup generations, newest first",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocStore(opts, cmd, func(ctx context.Context, st *store.Store) error {
				backups, err := st.History(ctx, args[0])
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read history", err)
				}
				entries := make(docHistory, 0, len(backups))
				for _, b := range backups {
					entries = append(entries, docHistoryEntry{
						Version:   b.Version,
						Checksum:  b.Checksum,
						CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339),
					})
				}
				return docFormatter(opts, cmd).Success(entries)
			})
		},
	}
}

func newDocRestoreCommand(opts *DocOptions) *cobra.Command {
	var generations int
	cmd := &cobra.Command{
		Use:           "restore <document-id>",
		Short:         "Restore a prior backup generation as a new version",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocStore(opts, cmd, func(ctx context.Context, st *store.Store) error {
				version, err := st.RestoreFromBackup(ctx, args[0], generations)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to restore document", err)
				}
				return docFormatter(opts, cmd).Success(
					fmt.Sprintf("document %s restored to version %d", args[0], version))
			})
		},
	}
	cmd.Flags().IntVar(&generations, "generations", 1, "how many backup generations to go back")
	return cmd
}

func withDocStore(opts *DocOptions, cmd *cobra.Command, fn func(ctx context.Context, st *store.Store) error) error {
	setupLogging(opts.Verbose)

	cfg, err := loadOptionalConfig(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
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
	return fn(ctx, st)
}

func docFormatter(opts *DocOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

type docContent struct {
	DocumentID string `json:"document_id"`
	Version    uint64 `json:"version"`
	Content    string `json:"content"`
}

func (d docContent) String() string {
	return fmt.Sprintf("%s (version %d)\n%s", d.DocumentID, d.Version, d.Content)
}

type docHistoryEntry struct {
	Version   uint64 `json:"version"`
	Checksum  string `json:"checksum"`
	CreatedAt string `json:"created_at"`
}

type docHistory []docHistoryEntry

func (h docHistory) String() string {
	if len(h) == 0 {
		return "no backups"
	}
	lines := make([]string, 0, len(h))
	for _, e := range h {
		lines = append(lines, fmt.Sprintf("version %-6d %s  %s", e.Version, e.CreatedAt, e.Checksum))
	}
	return strings.Join(lines, "\n")
}
