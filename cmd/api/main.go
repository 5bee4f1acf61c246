package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"

	"github.com/vigneshprince/expensetracker/internal/api/handlers"
	"github.com/vigneshprince/expensetracker/internal/api/middleware"
	"github.com/vigneshprince/expensetracker/internal/archive"
	"github.com/vigneshprince/expensetracker/internal/config"
	"github.com/vigneshprince/expensetracker/internal/extract"
	"github.com/vigneshprince/expensetracker/internal/ledger"
	"github.com/vigneshprince/expensetracker/internal/logger"
	"github.com/vigneshprince/expensetracker/internal/mailbox"
	"github.com/vigneshprince/expensetracker/internal/review"
	fsstore "github.com/vigneshprince/expensetracker/internal/store/firestore"
	"github.com/vigneshprince/expensetracker/internal/trigger"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.GCP.ProjectID == "" {
		log.Fatal().Msg("gcp.project_id is required")
	}

	ctx := context.Background()

	fsClient, err := fsstore.NewClient(ctx, cfg.GCP.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Firestore client")
	}
	defer fsClient.Close()

	credentials := fsstore.NewCredentialStore(fsClient)
	cursors := fsstore.NewCursorStore(fsClient)
	staging := fsstore.NewStagingStore(fsClient)
	triggers := fsstore.NewTriggerStore(fsClient)
	ledgerSvc := ledger.NewFirestoreService(fsClient)

	var archiver mailbox.BodyArchiver
	if cfg.Archive.Bucket != "" {
		gcsClient, err := storage.NewClient(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create storage client")
		}
		defer gcsClient.Close()
		archiver = archive.NewGCSArchiver(gcsClient, cfg.Archive.Bucket)
	} else {
		log.Warn().Msg("No archive bucket configured - raw body archival disabled")
	}

	auth := mailbox.NewAuthenticator(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, cfg.OAuth.RedirectURL, credentials, log)
	fetcher := mailbox.NewFetcher(cursors, staging, credentials, archiver, log)
	fetcher.SetPageSizes(cfg.Sync.ColdStartPageSize, cfg.Sync.WarmPageSize)

	generator := extract.NewGeminiGenerator(cfg.Model.Name)
	worker := extract.NewWorker(staging, ledgerSvc, generator, cfg.Sync.ProcessBatchSize, log)
	limiter := trigger.NewLimiter(triggers, log)
	workflow := review.NewWorkflow(staging, ledgerSvc, worker, log)

	authHandler := handlers.NewAuthHandler(auth, log)
	pipelineHandler := handlers.NewPipelineHandler(auth, fetcher, worker, limiter, log)
	stagingHandler := handlers.NewStagingHandler(staging, workflow, log)
	smsHandler := handlers.NewSMSHandler(staging, log)

	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)

	r.Get("/health", handlers.Health)
	r.Post("/webhooks/sms", smsHandler.Webhook)

	r.Route("/api", func(r chi.Router) {
		r.Get("/auth/url", authHandler.AuthURL)
		r.Get("/auth/callback", authHandler.Callback)

		r.Post("/sync", pipelineHandler.Sync)
		r.Post("/process", pipelineHandler.Process)

		r.Route("/staging", func(r chi.Router) {
			r.Get("/", stagingHandler.List)
			r.Post("/{id}/promote", stagingHandler.Promote)
			r.Post("/{id}/retry", stagingHandler.Retry)
			r.Delete("/{id}", stagingHandler.Delete)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
