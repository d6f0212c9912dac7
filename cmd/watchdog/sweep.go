package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"coursepipe/internal/watchdog"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one sweep and print its summary as JSON",
	Long:  "Runs a single sweep. Exits non-zero when the sweep fails as a whole; per-job failures are reported in the summary.",
	RunE:  runSweep,
}

var (
	sweepDryRun bool
	sweepActor  string
)

func init() {
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "Classify and decide without writing anything")
	sweepCmd.Flags().StringVar(&sweepActor, "actor", watchdog.DefaultActor, "Actor recorded on audit entries")

	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	summary, err := rt.watchdog.Sweep(cmd.Context(), watchdog.SweepOptions{DryRun: sweepDryRun, Actor: sweepActor})
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
