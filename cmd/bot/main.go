package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"image-magic/internal/batch"
	"image-magic/internal/config"
	"image-magic/internal/export"
	"image-magic/internal/gemini"
	"image-magic/internal/handlers"
	"image-magic/internal/httpclient"
	"image-magic/internal/logging"
	"image-magic/internal/mediagroup"
	"image-magic/internal/telegram"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.RequireTelegram(); err != nil {
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

	tg, err := telegram.New(telegram.Options{
		Token:      cfg.TelegramToken,
		HTTPClient: httpClient,
		Logger:     logger,
		Debug:      cfg.Debug,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("telegram init failed")
	}

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

	handler := handlers.New(handlers.Options{
		Telegram:              tg,
		Generator:             gen,
		Logger:                logger,
		GenerationConcurrency: cfg.GenerationConcurrency,
		SessionIdle:           cfg.SessionIdle,
		ArchiveMethod:         archiveMethod,
		BaseContext:           ctx,
		RunTimeout:            cfg.RequestTimeout,
	})
	defer handler.Wait()
	go handler.Sessions().Janitor(ctx, time.Minute)

	sem := make(chan struct{}, cfg.MaxConcurrent)
	onGroupFlush := func(group mediagroup.Group) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		go func() {
			defer func() { <-sem }()

			reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
			defer cancel()

			handler.HandleMediaGroup(reqCtx, group)
		}()
	}

	aggregator := mediagroup.New(mediagroup.Options{
		Debounce: cfg.MediaGroupDebounce,
		MaxFiles: batch.MaxItems,
		OnFlush:  onGroupFlush,
	})
	handler.SetMediaGroupAggregator(aggregator)

	logger.Info().Str("username", tg.Username()).Str("backend", cfg.GeminiBackend).Msg("bot started")

	updates := tg.Updates(telegram.UpdatesOptions{
		Timeout: 30 * time.Second,
	})
	defer tg.StopUpdates()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return
		case update, ok := <-updates:
			if !ok {
				logger.Info().Msg("updates channel closed")
				return
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}

			go func(update telegram.Update) {
				defer func() { <-sem }()

				reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
				defer cancel()

				if err := handler.HandleUpdate(reqCtx, update); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error().Err(err).Msg("handle update failed")
				}
			}(update)
		}
	}
}
