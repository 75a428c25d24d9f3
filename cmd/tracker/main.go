package main

import (
	"context"
	"time"

	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
	"github.com/shishobooks/hondana/pkg/books"
	"github.com/shishobooks/hondana/pkg/config"
	"github.com/shishobooks/hondana/pkg/database"
	"github.com/shishobooks/hondana/pkg/enrich"
	"github.com/shishobooks/hondana/pkg/jobs"
	"github.com/shishobooks/hondana/pkg/metadata"
	"github.com/shishobooks/hondana/pkg/migrations"
	"github.com/shishobooks/hondana/pkg/reconcile"
	"github.com/shishobooks/hondana/pkg/version"
	"github.com/shishobooks/hondana/pkg/worker"
)

func main() {
	ctx := context.Background()
	log := logger.New()

	log.Info("starting hondana", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		log.Err(err).Fatal("migrations error")
	}
	if group.ID == 0 {
		log.Info("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	store := jobs.NewFileStore(cfg.JobStateFilePath)
	wrkr, err := worker.New(cfg, store)
	if err != nil {
		log.Err(err).Fatal("worker error")
	}

	reconcileService := reconcile.NewService(db)
	err = wrkr.Register(
		jobs.JobNameReconcile,
		"Repairs volume ledgers and series totals so they agree with owned books.",
		time.Duration(cfg.ReconcileIntervalMinutes)*time.Minute,
		true,
		reconcileService.RunJob,
	)
	if err != nil {
		log.Err(err).Fatal("register reconcile job error")
	}

	enricher := enrich.New(
		books.NewService(db),
		metadata.NewGoogleBooks(cfg.GoogleBooksBaseURL),
		metadata.NewOpenLibrary(cfg.OpenLibraryBaseURL),
		cfg.EnrichPacingDelay,
	)
	err = wrkr.Register(
		jobs.JobNameEnrich,
		"Fills missing book metadata from external sources.",
		time.Duration(cfg.EnrichIntervalMinutes)*time.Minute,
		true,
		enricher.RunJob,
	)
	if err != nil {
		log.Err(err).Fatal("register enrich job error")
	}

	graceful := signals.Setup()

	wrkr.Start()
	log.Info("worker started")

	<-graceful
	log.Info("starting graceful shutdown")

	wrkr.Shutdown()
	log.Info("worker shutdown")

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")
}
