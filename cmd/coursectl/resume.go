package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"coursepipe/internal/domain"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue the interrupted upload and submit it",
	RunE:  runResume,
}

var discardCmd = &cobra.Command{
	Use:   "discard",
	Short: "Forget the pending upload session",
	RunE:  runDiscard,
}

var (
	resumeNoWatch bool
	resumeFlags   jobFlags
)

func init() {
	resumeCmd.Flags().IntVar(&uploadChunkMB, "chunk-mb", 8, "Chunk size in MiB")
	resumeCmd.Flags().BoolVar(&resumeNoWatch, "no-watch", false, "Exit after submitting instead of watching the jobs")
	resumeFlags.register(resumeCmd)

	rootCmd.AddCommand(resumeCmd, discardCmd)
}

func runResume(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	c, err := newCLI(true)
	if err != nil {
		return err
	}
	defer c.Close()

	sess, state, err := c.sessions.Pending(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return errors.New("no pending upload")
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Resuming %q (%s, %d/%d files, started %s)\n",
		sess.JobTitleDraft, state, sess.UploadedCount, sess.TotalCount, sess.StartedAt.Format(time.RFC3339))

	handle, err := c.uploader.Retry(ctx, sess, nil, uploadOptions(sess.JobTitleDraft))
	if err != nil {
		return err
	}
	return c.finish(ctx, handle, resumeFlags, !resumeNoWatch)
}

func runDiscard(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	c, err := newCLI(true)
	if err != nil {
		return err
	}
	defer c.Close()

	sess, _, err := c.sessions.Pending(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		fmt.Fprintln(os.Stderr, "nothing to discard")
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.sessions.Clear(ctx, sess.ID); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Discarded %q (%d/%d files uploaded)\n", sess.JobTitleDraft, sess.UploadedCount, sess.TotalCount)
	return nil
}
