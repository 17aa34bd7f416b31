package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opsledger/deltakernel/internal/governor"
	"github.com/opsledger/deltakernel/internal/ledger"
	"github.com/opsledger/deltakernel/internal/registry"
)

// CloseOptions holds flags for the close command.
type CloseOptions struct {
	*RootOptions
	LoopID  string
	Title   string
	Archive bool
}

// NewCloseCommand creates the close command.
func NewCloseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CloseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "close",
		Short: "Record a loop closure",
		Long: `Record a loop closure as one atomic delta: the violation counter
resets, the closure is appended to the log and registry, counters and the
closure ratio update, and the mode machine re-routes off the new ratio.

Closing a loop that is already recorded reports duplicate and commits
nothing.

Examples:
  deltakernel close --db ./deltakernel.db --loop inbox-zero --title "Inbox zero"
  deltakernel close --db ./deltakernel.db --loop stale-draft --archive`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClose(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.LoopID, "loop", "", "loop identifier (empty for an anonymous closure)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "human-readable closure title")
	cmd.Flags().BoolVar(&opts.Archive, "archive", false, "record as archived instead of closed")

	return cmd
}

func runClose(opts *CloseOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, cfg, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	reg, err := registry.New(st)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build closure registry", err)
	}

	co := governor.New(st,
		governor.WithMoneyTarget(cfg.MoneyTargetCents),
		governor.WithMaxAttempts(cfg.MaxCommitAttempts),
		governor.WithRecordValidator(reg),
	)

	outcome := ledger.OutcomeClosed
	if opts.Archive {
		outcome = ledger.OutcomeArchived
	}

	result, err := co.CloseLoop(ctx, opts.LoopID, opts.Title, outcome)
	if err != nil {
		return WrapExitError(ExitCommandError, "closure failed", err)
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return f.Success(result)
	}

	out := cmd.OutOrStdout()
	if result.Duplicate {
		fmt.Fprintf(out, "Loop %q already recorded; nothing committed.\n", opts.LoopID)
		return nil
	}
	fmt.Fprintf(out, "Closure recorded (%s).\n", outcome)
	fmt.Fprintf(out, "  closed total:  %d\n", result.Metrics.ClosedLoopsTotal)
	fmt.Fprintf(out, "  closure ratio: %d%%\n", result.Metrics.ClosureRatioPct)
	fmt.Fprintf(out, "  mode:          %s", result.Mode)
	if result.ModeChanged {
		fmt.Fprint(out, " (changed)")
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  streak:        %d day(s), best %d\n", result.Streak.Days, result.Streak.Best)
	return nil
}
