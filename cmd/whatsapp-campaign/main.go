package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"whatsapp-campaign/internal/api"
	"whatsapp-campaign/internal/config"
	"whatsapp-campaign/internal/dispatch"
	"whatsapp-campaign/internal/handler"
	"whatsapp-campaign/internal/models"
	"whatsapp-campaign/internal/storage"
	"whatsapp-campaign/internal/watch"
	"whatsapp-campaign/internal/whatsapp"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	store, err := storage.NewStore(cfg.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	service, err := whatsapp.NewService(&whatsapp.Config{DataDir: cfg.DataDir}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize WhatsApp service")
	}

	dispatcher := dispatch.NewDispatcher(store, service, dispatch.Config{
		Delay:        cfg.SendDelay,
		AssignTokens: cfg.CampaignTokens,
	}, log)

	switch cfg.BotMode {
	case config.ModeAppointment:
		service.SetMessageHandler(handler.NewAppointment(store, service, log).HandleMessage)
	case config.ModeResponses:
		service.SetMessageHandler(handler.NewResponses(store, service, log).HandleMessage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Control surface.
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewServer(store, dispatcher, service, log).Router(),
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("Control API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().Msg("Connecting to WhatsApp")
	if err := service.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to WhatsApp")
	}

	runCampaign := func() {
		if _, err := dispatcher.Run(ctx); err != nil && !errors.Is(err, dispatch.ErrRunInProgress) && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Campaign run failed")
		}
	}

	// Startup pass plus debounced re-runs on external recipient edits.
	go runCampaign()
	trigger := watch.NewTrigger(cfg.DebounceWindow, runCampaign, log)
	go trigger.Run(ctx)
	go func() {
		if err := trigger.Watch(ctx, store.RecipientsPath()); err != nil {
			log.Error().Err(err).Msg("Recipient watcher failed")
		}
	}()

	// Nightly reset so every day starts with a fresh token sequence.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ResetSchedule, func() { resetRecipients(store, log) }); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.ResetSchedule).Msg("Invalid reset schedule")
	}
	scheduler.Start()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	service.Disconnect()
}

// resetRecipients clears token, cancellation and sent flags so recipients
// re-enter the flow. Pending cancellation confirmations are dropped too; a
// recipient mid-conversation starts over from the date prompt.
func resetRecipients(store *storage.Store, log zerolog.Logger) {
	log.Info().Msg("Resetting token and cancellation status")
	err := store.Mutate(func(recipients []models.Recipient) ([]models.Recipient, error) {
		for i := range recipients {
			recipients[i].Token = 0
			recipients[i].Cancelled = false
			recipients[i].Sent = false
			recipients[i].PendingCancellation = false
		}
		return recipients, nil
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to reset recipients")
	}
}
