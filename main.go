package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"estate-scout/config"
	"estate-scout/models"
	"estate-scout/notify"
	"estate-scout/pipeline"
	"estate-scout/rubric"
	"estate-scout/scraper"
	"estate-scout/scraper/idealista"
	"estate-scout/scraper/immobiliare"
	"estate-scout/services"
	"estate-scout/storage"
	"estate-scout/utils"
)

func main() {
	serve := flag.Bool("serve", false, "run the HTTP trigger server instead of a one-shot scrape")
	flag.Parse()

	logger := utils.NewLogger()
	cfg := config.Load()

	logger.Info("=== Estate Scout starting ===")
	logger.Info("Config — concurrency: %d | source delay: %dms | global delay: %dms | retries: %d | test mode: %v",
		cfg.MaxConcurrency, cfg.SourceDelayMs, cfg.GlobalDelayMs, cfg.MaxRetries, cfg.TestMode)

	// An invalid rubric must stop everything before any side effect.
	var rub *rubric.Rubric
	var err error
	if cfg.RubricPath != "" {
		rub, err = rubric.Load(cfg.RubricPath)
	} else {
		rub = rubric.Default()
		err = rub.Validate()
	}
	if err != nil {
		logger.Error("Rubric rejected: %v", err)
		os.Exit(1)
	}

	scopesCfg, err := config.LoadScopes(cfg.ScopesPath)
	if err != nil {
		logger.Error("Scope config rejected: %v", err)
		os.Exit(1)
	}
	locations, maxPerScope := scopesCfg.Active(cfg.TestMode)
	scopes := make([]scraper.Scope, 0, len(locations))
	for _, loc := range locations {
		scopes = append(scopes, scraper.Scope{Location: loc.Name, Province: loc.Province, MaxProperties: maxPerScope})
	}
	logger.Info("Searching %d locations, up to %d listings each", len(scopes), maxPerScope)

	store, err := storage.NewPostgresStore(cfg.DSN())
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL: %v", err)
		logger.Error("Make sure Docker is running: docker compose up -d")
		os.Exit(1)
	}
	defer store.Close()

	archiver, err := storage.NewCSVArchiver(cfg.CSVArchivePath)
	if err != nil {
		logger.Error("Failed to open raw archive: %v", err)
		os.Exit(1)
	}
	defer archiver.Close()

	limiter := utils.NewRateLimiter(time.Duration(cfg.SourceDelayMs) * time.Millisecond)
	limiter.SetInterval(utils.GlobalKey, time.Duration(cfg.GlobalDelayMs)*time.Millisecond)

	extractors := []scraper.Extractor{
		immobiliare.New(immobiliare.Options{
			UserAgent:  cfg.UserAgent,
			MaxRetries: cfg.MaxRetries,
			Limiter:    limiter,
			Logger:     logger,
		}),
		idealista.New(idealista.Options{
			Headless:   !cfg.TestMode,
			MaxRetries: cfg.MaxRetries,
			Limiter:    limiter,
			Logger:     logger,
		}),
	}

	var notifier notify.Notifier
	if cfg.SMTPUser != "" && cfg.AlertRecipient != "" {
		notifier = &notify.SMTPNotifier{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			User:      cfg.SMTPUser,
			Password:  cfg.SMTPPassword,
			Recipient: cfg.AlertRecipient,
			Logger:    logger,
		}
	} else {
		notifier = &notify.LogNotifier{Logger: logger}
	}

	runner := pipeline.NewRunner(pipeline.Options{
		Logger:         logger,
		Extractors:     extractors,
		Normalizer:     services.NewNormalizer(logger, locations),
		Evaluator:      services.NewEvaluator(rub),
		Reconciler:     services.NewReconciler(logger),
		Store:          store,
		Archiver:       archiver,
		Notifier:       notifier,
		Scopes:         scopes,
		MaxConcurrency: cfg.MaxConcurrency,
		UnitTimeout:    time.Duration(cfg.UnitTimeoutSec) * time.Second,
		RunTimeout:     time.Duration(cfg.RunTimeoutSec) * time.Second,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *serve {
		if err := serveHTTP(ctx, cfg.ServeAddr, runner, logger); err != nil {
			logger.Error("Server stopped: %v", err)
			os.Exit(1)
		}
		return
	}

	result, err := runner.Run(ctx)
	if err != nil {
		logger.Error("Run failed: %v", err)
		if result == nil {
			os.Exit(1)
		}
	}
	pipeline.PrintReport(result)
	if result.State != models.RunCompleted {
		os.Exit(1)
	}
}
