package main

import (
	"context"
	"os"
	"time"

	"freelance-erp/internal/backend"
	"freelance-erp/internal/cli"
	"freelance-erp/internal/log"
	"freelance-erp/internal/services"
	ports "freelance-erp/internal/sheets"
	gsheet "freelance-erp/internal/sheets/google"
	sheetsmem "freelance-erp/internal/sheets/memory"
	"freelance-erp/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting freelance-erp worker", log.FieldOperation, log.OpStartup, "backend", cfg.DataBackend)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err, log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to create backend", log.FieldError, err, log.FieldErrorType, log.ErrorTypeDatabase)
		os.Exit(1)
	}

	var writer ports.LedgerWriter
	if cfg.SheetsEnabled() {
		client, err := gsheet.New(context.Background(), gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetBase:       cfg.GoogleLedgerSheetName,
			CredentialsFile: cfg.GoogleCredentialsFile,
			CredentialsJSON: cfg.GoogleCredentialsJSON,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err, log.FieldErrorType, log.ErrorTypeConfiguration)
			os.Exit(1)
		}
		writer = client
		logger.Info("Google Sheets ledger export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		writer = sheetsmem.New(cfg.GoogleLedgerSheetName)
		logger.Warn("GOOGLE_SPREADSHEET_ID not set, ledgers are kept in memory only")
	}

	exporter := services.NewLedgerExporter(res.Repository, writer)
	processor := services.NewExportProcessor(res.Repository, exporter, services.ExportProcessorConfig{
		PollInterval:    cfg.SyncInterval,
		BatchSize:       cfg.SyncBatchSize,
		MaxRetries:      cfg.SyncMaxRetries,
		CleanupInterval: time.Hour,
		CleanupAge:      24 * time.Hour,
	})

	runner := &worker.Runner{
		Ledger:         worker.NewLedgerWorker(exporter, logger),
		Processor:      processor,
		Backup:         worker.NewBackup(res.Repository, services.NewDocumentService(res.Repository, nil, nil), cfg.BackupDir, logger),
		BackupSchedule: cfg.BackupSchedule,
		Logger:         logger,
	}
	if res.Publisher != nil {
		runner.Consumer = res.Publisher
	}

	// The backend stays open until the runner has drained.
	runnerDone := make(chan struct{})
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		select {
		case <-runnerDone:
		case <-ctx.Done():
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	err = runner.Run(ctx)
	close(runnerDone)
	if err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
		_ = res.Cleanup()
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
}
