// Command coursectl uploads lecture videos, submits them as jobs and follows
// their progress.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"coursepipe/internal/apiclient"
	"coursepipe/internal/infra"
	"coursepipe/internal/sessionstore"
	"coursepipe/internal/upload"
)

var rootCmd = &cobra.Command{
	Use:           "coursectl",
	Short:         "Turn lecture videos into course documents",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	apiURL   string
	apiToken string
	stateDir string
	verbose  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API base URL (default $COURSEPIPE_API_URL)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "Bearer token (default $COURSEPIPE_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "Directory for resumable upload state (default $COURSEPIPE_STATE_DIR)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log requests to stderr")
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli holds the collaborators of one command invocation.
type cli struct {
	logger   zerolog.Logger
	api      *apiclient.Client
	sessions *sessionstore.Store
	uploader *upload.Uploader
	jobs     *upload.Client
}

func newCLI(withSessions bool) (*cli, error) {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := infra.NewLoggerTo("development", os.Stderr).Level(level)

	api, err := apiclient.New(apiclient.Options{
		BaseURL: firstNonEmpty(apiURL, os.Getenv("COURSEPIPE_API_URL")),
		Token:   firstNonEmpty(apiToken, os.Getenv("COURSEPIPE_TOKEN")),
		Logger:  &logger,
	})
	if err != nil {
		return nil, err
	}
	c := &cli{logger: logger, api: api}
	if !withSessions {
		return c, nil
	}

	dir, err := resolveStateDir()
	if err != nil {
		return nil, err
	}
	sessions, err := sessionstore.Open(dir, sessionstore.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	c.sessions = sessions
	c.uploader = upload.New(api, sessions, logger)
	c.jobs = upload.NewClient(api, sessions, logger)
	return c, nil
}

func (c *cli) Close() {
	if c.sessions != nil {
		if err := c.sessions.Close(); err != nil {
			c.logger.Error().Err(err).Msg("coursectl: close session store")
		}
	}
}

func resolveStateDir() (string, error) {
	if dir := firstNonEmpty(stateDir, os.Getenv("COURSEPIPE_STATE_DIR")); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve state dir: %w", err)
	}
	return filepath.Join(base, "coursepipe", "sessions"), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
