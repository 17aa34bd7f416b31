package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsledger/deltakernel/internal/governor"
	"github.com/opsledger/deltakernel/internal/ledger"
	"github.com/opsledger/deltakernel/internal/registry"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
}

// StatusResult is the JSON payload for the status command.
type StatusResult struct {
	Mode         governor.Mode    `json:"mode"`
	BuildAllowed bool             `json:"build_allowed"`
	Version      int64            `json:"version"`
	Hash         string           `json:"hash"`
	Signals      governor.Signals `json:"signals"`
	Metrics      governor.Metrics `json:"metrics"`
	Streak       governor.Streak  `json:"streak"`
	Violations   int64            `json:"violations"`
	Registry     registry.Export  `json:"registry"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current SystemState snapshot and closure registry",
		Long: `Print the committed SystemState head: mode, signals, metrics, streak,
violations, and the closure registry for today.

Examples:
  deltakernel status --db ./deltakernel.db
  deltakernel status --db ./deltakernel.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, _, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := st.GetSnapshot(ctx, governor.SystemEntityID)
	if errors.Is(err, ledger.ErrNotFound) {
		return NewExitError(ExitCommandError, "system state not bootstrapped yet; run serve or close first")
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}

	reg, err := registry.New(st)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build closure registry", err)
	}
	day := time.Now().UTC().Format(governor.DayFormat)
	export, err := reg.Export(ctx, day)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to export registry", err)
	}

	state := governor.State{Doc: snap.State}
	result := StatusResult{
		Mode:         state.Mode(),
		BuildAllowed: state.BuildAllowed(),
		Version:      snap.Entity.Version,
		Hash:         snap.Entity.Hash,
		Signals:      state.Signals(),
		Metrics:      state.Metrics(),
		Streak:       state.Streak(),
		Violations:   state.Violations(),
		Registry:     export,
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return f.Success(result)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Mode:          %s (build allowed: %v)\n", result.Mode, result.BuildAllowed)
	fmt.Fprintf(out, "Head:          v%d %s\n", result.Version, result.Hash)
	fmt.Fprintf(out, "Signals:       sleep %dm, loops %d, shipped %d, deep work %d, money %d cents\n",
		result.Signals.SleepMinutes, result.Signals.OpenLoops, result.Signals.AssetsShipped,
		result.Signals.DeepWorkBlocks, result.Signals.MoneyDelta)
	fmt.Fprintf(out, "Closures:      %d total (%d today), ratio %d%%\n",
		result.Metrics.ClosedLoopsTotal, result.Metrics.ClosuresToday, result.Metrics.ClosureRatioPct)
	fmt.Fprintf(out, "Streak:        %d day(s), best %d\n", result.Streak.Days, result.Streak.Best)
	fmt.Fprintf(out, "Violations:    %d\n", result.Violations)
	if state.TransitionReason() != "" {
		fmt.Fprintf(out, "Last routing:  %s\n", state.TransitionReason())
	}
	return nil
}
