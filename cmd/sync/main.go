package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"cloud.google.com/go/storage"

	"github.com/vigneshprince/expensetracker/internal/archive"
	"github.com/vigneshprince/expensetracker/internal/config"
	"github.com/vigneshprince/expensetracker/internal/extract"
	"github.com/vigneshprince/expensetracker/internal/ledger"
	"github.com/vigneshprince/expensetracker/internal/logger"
	"github.com/vigneshprince/expensetracker/internal/mailbox"
	fsstore "github.com/vigneshprince/expensetracker/internal/store/firestore"
)

// One-shot sync for cron or manual runs: fetch new transaction mail for one
// account, stage it, and run a single extraction batch.
func main() {
	log := logger.New()

	account := flag.String("account", "", "Mailbox account to sync (email address)")
	skipExtract := flag.Bool("skip-extract", false, "Stage new messages without running extraction")
	flag.Parse()

	if *account == "" {
		log.Fatal().Msg("Error: --account is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.GCP.ProjectID == "" {
		log.Fatal().Msg("gcp.project_id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	fsClient, err := fsstore.NewClient(ctx, cfg.GCP.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Firestore client")
	}
	defer fsClient.Close()

	credentials := fsstore.NewCredentialStore(fsClient)
	cursors := fsstore.NewCursorStore(fsClient)
	staging := fsstore.NewStagingStore(fsClient)
	ledgerSvc := ledger.NewFirestoreService(fsClient)

	var archiver mailbox.BodyArchiver
	if cfg.Archive.Bucket != "" {
		gcsClient, err := storage.NewClient(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create storage client")
		}
		defer gcsClient.Close()
		archiver = archive.NewGCSArchiver(gcsClient, cfg.Archive.Bucket)
	}

	auth := mailbox.NewAuthenticator(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, cfg.OAuth.RedirectURL, credentials, log)
	fetcher := mailbox.NewFetcher(cursors, staging, credentials, archiver, log)
	fetcher.SetPageSizes(cfg.Sync.ColdStartPageSize, cfg.Sync.WarmPageSize)

	ts, err := auth.TokenSource(ctx, *account)
	if err != nil {
		log.Fatal().Err(err).Str("account", *account).Msg("Account is not connected")
	}
	client, err := mailbox.NewGmailClient(ctx, ts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create mailbox client")
	}

	staged, err := fetcher.FetchNew(ctx, *account, client)
	if err != nil {
		log.Fatal().Err(err).Str("account", *account).Msg("Sync failed")
	}

	processed := 0
	if !*skipExtract {
		generator := extract.NewGeminiGenerator(cfg.Model.Name)
		worker := extract.NewWorker(staging, ledgerSvc, generator, cfg.Sync.ProcessBatchSize, log)
		processed, err = worker.ProcessPending(ctx, *account)
		if err != nil {
			log.Fatal().Err(err).Str("account", *account).Msg("Extraction failed")
		}
	}

	fmt.Printf("Sync completed: %d staged, %d ready for review.\n", staged, processed)
}
