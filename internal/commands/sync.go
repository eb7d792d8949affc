package commands

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jask/bankfeed/internal/service"
)

func newSyncCommand(opts *RootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sync [item-id]",
		Short: "Pull transaction deltas for one connection or all of them",
		Example: `  bankfeed sync item-123
  bankfeed sync --all`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("--all takes no item id")
			}
			if !all && len(args) != 1 {
				return fmt.Errorf("item id required (or --all)")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if all {
				return runSyncAll(ctx, a, out)
			}
			res, err := a.engine.SyncConnection(ctx, args[0])
			printSyncResult(out, res)
			return err
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "sync every active connection")
	return cmd
}

func runSyncAll(ctx context.Context, a *app, out io.Writer) error {
	results, err := a.engine.SyncAll(ctx)
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range results {
		printSyncResult(out, r)
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d connections failed", failed, len(results))
	}
	return nil
}

func printSyncResult(out io.Writer, r service.SyncResult) {
	status := "ok"
	if r.Err != nil {
		status = "error: " + r.Err.Error()
	}
	fmt.Fprintf(out, "%s: added=%d modified=%d removed=%d skipped=%d failed=%d duplicates=%d pages=%d (%s)\n",
		r.ItemID, r.Added, r.Modified, r.Removed, r.Skipped, r.Failed, r.Duplicates, r.Pages, status)
}

func newBalancesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balances <item-id>",
		Short: "Refresh account balances for a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.engine.UpdateBalances(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d account balance(s) updated\n", res.ItemID, res.AccountCount)
			return nil
		},
	}
}

func newResetCursorCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-cursor <item-id>",
		Short: "Forget the sync cursor so the next sync replays full history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.engine.ResetCursor(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: cursor reset\n", args[0])
			return nil
		},
	}
}

func newConnectCommand(opts *RootOptions) *cobra.Command {
	var in service.ConnectionInput
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Register a connection with an already-exchanged access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			conn, err := a.engine.RegisterConnection(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: connected (%s)\n", conn.ItemID, conn.InstitutionName)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.ItemID, "item-id", "", "aggregator item id (required)")
	cmd.Flags().StringVar(&in.AccessToken, "access-token", "", "aggregator access token (required)")
	cmd.Flags().StringVar(&in.InstitutionName, "institution", "", "institution display name")
	_ = cmd.MarkFlagRequired("item-id")
	_ = cmd.MarkFlagRequired("access-token")
	return cmd
}
