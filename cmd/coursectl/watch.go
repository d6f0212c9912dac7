package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"coursepipe/internal/domain"
	"coursepipe/internal/poller"
)

var watchCmd = &cobra.Command{
	Use:   "watch JOB_ID...",
	Short: "Follow jobs until they complete or fail",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWatch,
}

var statusCmd = &cobra.Command{
	Use:   "status JOB_ID",
	Short: "Print the current state of one job as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var (
	watchInterval time.Duration
	watchBudget   time.Duration
)

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", poller.DefaultInterval, "Time between polls")
	watchCmd.Flags().DurationVar(&watchBudget, "budget", poller.DefaultBudget, "Stop watching after this long")

	rootCmd.AddCommand(watchCmd, statusCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, err := newCLI(false)
	if err != nil {
		return err
	}
	return c.watch(cmd.Context(), args)
}

// watch follows every job concurrently and fails if any job failed or could
// not be followed to the end.
func (c *cli) watch(ctx context.Context, ids []string) error {
	interval, budget := watchInterval, watchBudget
	if interval <= 0 {
		interval = poller.DefaultInterval
	}
	p := poller.New(c.api, poller.Options{Interval: interval, Budget: budget, Logger: &c.logger})

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			final, err := p.Wait(ctx, id, func(u poller.Update) {
				fmt.Fprintf(os.Stderr, "%s  %3d%%  %s\n", id, u.Progress, u.StageLabel)
			})
			switch {
			case errors.Is(err, domain.ErrPollTimeout):
				return fmt.Errorf("%s: %w; it may still finish, check with `coursectl status %s`", id, err, id)
			case err != nil:
				return fmt.Errorf("%s: %w", id, err)
			case final.Status == domain.JobStatusFailed:
				return fmt.Errorf("%s failed: %s", id, final.ErrorMessage)
			}
			fmt.Fprintf(os.Stderr, "%s  done\n", id)
			return nil
		})
	}
	return g.Wait()
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := newCLI(false)
	if err != nil {
		return err
	}
	job, err := c.api.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := struct {
		domain.Job
		DisplayProgress int    `json:"display_progress"`
		StageLabel      string `json:"stage_label"`
	}{
		Job:             job,
		DisplayProgress: poller.Scale(job.Status, job.Progress),
		StageLabel:      poller.StageLabel(job.Status, job.Progress),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
