package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"coursepipe/internal/auth"
	"coursepipe/internal/bootstrap"
	"coursepipe/internal/http/handlers"
	httpapi "coursepipe/internal/http/httpapi"
	"coursepipe/internal/infra"
	"coursepipe/internal/ops"
	"coursepipe/internal/storage"
	"coursepipe/internal/submit"
	"coursepipe/internal/watchdog"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	stores, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to open stores")
	}
	defer stores.Close()

	storagePath := cfg.StoragePath
	if abs, err := filepath.Abs(storagePath); err == nil {
		storagePath = abs
	}
	files, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure storage")
	}

	authority, err := auth.NewJWTAuthority(cfg.JWTSecret, auth.DefaultIssuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure tokens")
	}

	wd, err := bootstrap.NewWatchdog(cfg, stores, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure watchdog")
	}

	app := handlers.NewApp(handlers.App{
		Jobs:      stores.Jobs,
		Uploads:   stores.Uploads,
		Files:     files,
		Submitter: submit.New(stores.Jobs, stores.Submissions, stores.Trigger, infra.Component(logger, "submit")),
		Ops: ops.New(ops.Deps{
			Authorizer: ops.NewOperatorAuthorizer(authority),
			Jobs:       stores.Jobs,
			AutoFixes:  stores.AutoFixes,
			Patterns:   stores.Patterns,
			Watchdog:   wd,
			Logger:     infra.Component(logger, "ops"),
		}),
		Logger:             logger,
		UploadMaxBytes:     cfg.UploadMaxBytes,
		UploadAllowedTypes: cfg.UploadAllowedTypes,
	})
	if stores.DB != nil {
		app.DB = stores.DB
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		Verifier:        authority,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Logger:          logger,
	})
	server := infra.NewHTTPServer(cfg, router)

	var scheduler *watchdog.Scheduler
	if cfg.Watchdog.Embedded {
		scheduler = watchdog.NewScheduler(wd, infra.Component(logger, "watchdog"))
		if err := scheduler.Start(cfg.Watchdog.Schedule); err != nil {
			logger.Fatal().Err(err).Msg("api: invalid watchdog schedule")
		}
	}

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	logger.Info().Msg("server stopped")
}
