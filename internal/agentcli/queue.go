package agentcli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/booth-checkin/pkg/export"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "sync",
		Short:         "Send queued scans to the server now",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.agent.SyncPendingScans(ctx)
			if err != nil {
				return err
			}
			pending, err := rt.agent.GetPendingCount(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(out, map[string]int{"synced": result.Synced, "failed": result.Failed, "pending": pending})
			}
			_, err = fmt.Fprintf(out, "synced %d, failed %d, still pending %d\n", result.Synced, result.Failed, pending)
			return err
		},
	}
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "pending",
		Short:         "Show how many scans await confirmation",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer rt.Close()

			count, err := rt.agent.GetPendingCount(ctx)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]int{"pending": count})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), count)
			return err
		},
	}
}

// FailedOptions holds flags for the failed command.
type FailedOptions struct {
	*RootOptions
	Export string
	Output string
}

// NewFailedCommand creates the failed command.
func NewFailedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FailedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List scans the server rejected or that ran out of attempts",
		Long: `List scans that need manual attention.

Examples:
  scanner-agent failed
  scanner-agent failed --export csv --out failed.csv
  scanner-agent failed --export pdf --out failed.pdf`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, opts.RootOptions)
			if err != nil {
				return err
			}
			defer rt.Close()

			scans, err := rt.agent.ListFailed(ctx)
			if err != nil {
				return err
			}

			if opts.Export != "" {
				body, err := export.Render(export.Format(opts.Export), failedDataset(scans))
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), opts.Output, body)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), scans)
			}
			return writeFailedTable(cmd.OutOrStdout(), scans)
		},
	}

	cmd.Flags().StringVar(&opts.Export, "export", "", "export format (csv|pdf)")
	cmd.Flags().StringVar(&opts.Output, "out", "", "write the export to this file instead of stdout")

	return cmd
}

// NewRetryFailedCommand creates the retry-failed command.
func NewRetryFailedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed [local-id...]",
		Short: "Requeue failed scans",
		Long: `Move failed scans back to the queue with a fresh attempt budget.
Without ids every failed scan is requeued.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.agent.RetryFailed(ctx, args...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "requeued %d scan(s)\n", n)
			return err
		},
	}
}

// ClearOptions holds flags for the clear command.
type ClearOptions struct {
	*RootOptions
	Yes bool
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClearOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop pending and failed scans",
		Long: `Drop every pending and failed scan from the local queue. Scans
being sent at this moment still complete.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.Yes {
				return fmt.Errorf("clear discards unsent scans; pass --yes to confirm")
			}
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, opts.RootOptions)
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.agent.ClearQueue(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d scan(s)\n", n)
			return err
		},
	}

	cmd.Flags().BoolVar(&opts.Yes, "yes", false, "confirm discarding unsent scans")

	return cmd
}

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "refresh",
		Short:         "Download the student identifier snapshot",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer rt.Close()

			rt.agent.RefreshIdentifiers(ctx)
			size, at := rt.agent.IdentifierStats()
			if at.IsZero() {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "no identifier snapshot available")
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d identifiers, refreshed %s\n", size, at.UTC().Format(time.RFC3339))
			return err
		},
	}
}

func writeOutput(stdout io.Writer, path string, body []byte) error {
	if path == "" {
		_, err := stdout.Write(body)
		return err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
