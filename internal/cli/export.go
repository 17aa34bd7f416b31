package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsledger/deltakernel/internal/governor"
	"github.com/opsledger/deltakernel/internal/registry"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Day string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the closure registry, validated against its contract",
		Long: `Assemble the closure registry payload for downstream consumers. The
payload is checked against the embedded CUE contract before it is
emitted; a payload that fails the contract is a bug and exits non-zero.

Examples:
  deltakernel export --db ./deltakernel.db
  deltakernel export --db ./deltakernel.db --day 2026-08-27 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Day, "day", "", "day for the closures_today count (default today, UTC)")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	day := opts.Day
	if day == "" {
		day = time.Now().UTC().Format(governor.DayFormat)
	} else if _, err := time.Parse(governor.DayFormat, day); err != nil {
		return WrapExitError(ExitCommandError, "invalid --day, want YYYY-MM-DD", err)
	}

	st, _, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	reg, err := registry.New(st)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build closure registry", err)
	}

	export, err := reg.Export(ctx, day)
	if err != nil {
		return WrapExitError(ExitFailure, "registry export failed contract", err)
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return f.Success(export)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Registry for %s: %d total, %d today, streak %d (best %d)\n",
		day, export.TotalClosures, export.ClosuresToday, export.StreakDays, export.BestStreak)
	for _, rec := range export.Closures {
		loop := rec.LoopID
		if loop == "" {
			loop = "(anonymous)"
		}
		fmt.Fprintf(out, "  %s  %-10s %-24s %s\n", rec.Day, rec.Outcome, loop, rec.Title)
	}
	return nil
}
