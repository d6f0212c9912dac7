package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"coursepipe/internal/domain"
	"coursepipe/internal/sessionstore"
	"coursepipe/internal/upload"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List upload sessions kept in the local state directory",
	RunE:  runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, _ []string) error {
	dir, err := resolveStateDir()
	if err != nil {
		return err
	}
	store, err := sessionstore.Open(dir, sessionstore.Options{Logger: zerolog.Nop()})
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(os.Stderr, "no upload sessions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tTITLE\tSTATE\tFILES\tPROGRESS\tLAST FLUSH")
	interrupted := false
	for _, sess := range sessions {
		state := store.Classify(sess)
		if state == domain.SessionInterrupted {
			interrupted = true
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d%%\t%s\n",
			sess.ID, sess.JobTitleDraft, state, sess.UploadedCount, sess.TotalCount,
			upload.AggregateProgress(sess.FileManifest), sess.UpdatedAt.Format(time.RFC3339))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if interrupted {
		fmt.Fprintf(os.Stderr, "Sessions idle for more than %s are interrupted; run `coursectl resume` or `coursectl discard`.\n", store.Window())
	}
	return nil
}
