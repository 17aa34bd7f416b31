package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsledger/deltakernel/internal/governor"
	"github.com/opsledger/deltakernel/internal/registry"
	"github.com/opsledger/deltakernel/internal/scheduler"
	"github.com/opsledger/deltakernel/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ListenAddr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the kernel: HTTP API, commit stream, and governance scheduler",
		Long: `Run the long-lived kernel process. Serves the HTTP mutation and
snapshot API with a websocket commit stream, and starts the governance
scheduler that re-routes the mode machine every cadence interval and at
the configured day boundaries.

Examples:
  deltakernel serve --db ./deltakernel.db
  deltakernel serve --config ./deltakernel.yaml --listen 127.0.0.1:3001`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVar(&opts.ListenAddr, "listen", "", "listen address (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions) error {
	st, cfg, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	if opts.ListenAddr != "" {
		cfg.ListenAddr = opts.ListenAddr
	}

	reg, err := registry.New(st)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build closure registry", err)
	}

	clock := governor.SystemClock{}
	co := governor.New(st,
		governor.WithClock(clock),
		governor.WithMoneyTarget(cfg.MoneyTargetCents),
		governor.WithMaxAttempts(cfg.MaxCommitAttempts),
		governor.WithRecordValidator(reg),
	)

	sched, err := scheduler.New(co, clock, scheduler.Config{
		Interval: time.Duration(cfg.Scheduler.Interval),
		DayStart: cfg.Scheduler.DayStart,
		DayEnd:   cfg.Scheduler.DayEnd,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid scheduler config", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := governor.Bootstrap(ctx, st, clock.Now()); err != nil {
		return WrapExitError(ExitCommandError, "failed to bootstrap system state", err)
	}

	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("scheduler stopped", "error", err)
		}
	}()

	srv := server.New(st, co, reg, clock)
	if err := srv.Run(ctx, cfg.ListenAddr); err != nil && ctx.Err() == nil {
		return WrapExitError(ExitCommandError, "server failed", err)
	}
	return nil
}
