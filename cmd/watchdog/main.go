// Command watchdog runs the stuck-job reconciliation loop outside the API
// process, on a schedule or once on demand.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"coursepipe/internal/bootstrap"
	"coursepipe/internal/infra"
	"coursepipe/internal/watchdog"
)

var rootCmd = &cobra.Command{
	Use:           "watchdog",
	Short:         "Detect and remediate stuck coursepipe jobs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type runtime struct {
	cfg      *infra.Config
	logger   zerolog.Logger
	stores   *bootstrap.Stores
	watchdog *watchdog.Watchdog
}

func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := infra.LoadWatchdogConfig()
	if err != nil {
		return nil, err
	}
	logger := infra.NewLoggerTo(cfg.AppEnv, os.Stderr)
	stores, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	wd, err := bootstrap.NewWatchdog(cfg, stores, logger)
	if err != nil {
		stores.Close()
		return nil, err
	}
	return &runtime{cfg: cfg, logger: logger, stores: stores, watchdog: wd}, nil
}

func (r *runtime) Close() {
	r.stores.Close()
}
