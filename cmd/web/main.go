package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"image-magic/internal/batch"
	"image-magic/internal/config"
	"image-magic/internal/export"
	"image-magic/internal/gemini"
	"image-magic/internal/httpclient"
	"image-magic/internal/logging"
	"image-magic/internal/session"
	"image-magic/internal/webapi"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.RequireGemini(); err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	archiveMethod, err := export.ParseMethod(cfg.ArchiveMethod)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid ARCHIVE_METHOD")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
		Logger:     logger,
	})

	gen, err := gemini.Open(ctx, cfg.GeminiBackend, gemini.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		APIVersion: cfg.GeminiAPIVersion,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("gemini init failed")
	}

	sessions := session.NewStore(session.Options{
		IdleTTL: cfg.SessionIdle,
		Logger:  logger,
		NewSession: func(key string) *batch.Session {
			return batch.New(batch.Options{
				Generator:     gen,
				Logger:        logger.With().Str("session", key).Logger(),
				MaxConcurrent: cfg.GenerationConcurrency,
			})
		},
	})
	go sessions.Janitor(ctx, time.Minute)

	api := webapi.New(webapi.Options{
		Sessions:       sessions,
		Logger:         logger,
		RunTimeout:     cfg.RequestTimeout,
		MaxUploadBytes: cfg.MaxUploadBytes,
		ArchiveMethod:  archiveMethod,
		BaseContext:    ctx,
	})

	srv := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", cfg.WebAddr).Str("backend", cfg.GeminiBackend).Msg("web started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("server error")
	}
	api.Wait()
	logger.Info().Msg("shutting down")
}
