package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"coursepipe/internal/infra"
	"coursepipe/internal/watchdog"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run sweeps on the configured cron schedule until interrupted",
	RunE:  runServe,
}

var (
	serveSchedule string
	serveNow      bool
)

func init() {
	serveCmd.Flags().StringVar(&serveSchedule, "schedule", "", "Cron schedule (overrides WATCHDOG_SCHEDULE)")
	serveCmd.Flags().BoolVar(&serveNow, "now", false, "Run one sweep immediately before the first tick")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	schedule := serveSchedule
	if schedule == "" {
		schedule = rt.cfg.Watchdog.Schedule
	}
	scheduler := watchdog.NewScheduler(rt.watchdog, infra.Component(rt.logger, "watchdog"))
	if serveNow {
		scheduler.RunOnce()
	}
	if err := scheduler.Start(schedule); err != nil {
		return err
	}
	<-ctx.Done()
	scheduler.Stop()
	return nil
}
