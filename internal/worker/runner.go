package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"freelance-erp/internal/amqp"
	"freelance-erp/internal/log"
	"freelance-erp/internal/services"
)

// Consumer delivers document-saved messages to a handler until ctx ends.
type Consumer interface {
	ConsumeDocumentSaved(ctx context.Context, handler amqp.Handler) error
}

// Runner supervises the worker jobs. Every part is optional: a nil consumer
// leaves the export queue as the only trigger and an empty schedule disables
// backups.
type Runner struct {
	Consumer       Consumer
	Ledger         *LedgerWorker
	Processor      *services.ExportProcessor
	Backup         *Backup
	BackupSchedule string
	Logger         *log.Logger
}

// Run blocks until ctx is cancelled or a job fails.
func (r *Runner) Run(ctx context.Context) error {
	logger := r.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentWorker)

	g, ctx := errgroup.WithContext(ctx)

	var c *cron.Cron
	if r.Backup != nil && r.BackupSchedule != "" {
		var err error
		if c, err = r.scheduler(ctx, logger); err != nil {
			return err
		}
	}

	if r.Processor != nil {
		if err := r.Processor.Start(ctx); err != nil {
			return fmt.Errorf("start export processor: %w", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			return r.Processor.Stop(context.WithoutCancel(ctx))
		})
	}

	if r.Consumer != nil && r.Ledger != nil {
		g.Go(func() error {
			err := r.Consumer.ConsumeDocumentSaved(ctx, r.Ledger.HandleDocumentSaved)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("AMQP consumer disabled, relying on the export queue")
	}

	if c != nil {
		c.Start()
		logger.Info("Backup scheduler started", "schedule", r.BackupSchedule)
		g.Go(func() error {
			<-ctx.Done()
			<-c.Stop().Done()
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

func (r *Runner) scheduler(ctx context.Context, logger *log.Logger) (*cron.Cron, error) {
	cl := cronLogger{logger: logger.WithComponent(log.ComponentBackup)}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	_, err := c.AddFunc(r.BackupSchedule, func() {
		if _, err := r.Backup.Run(ctx); err != nil {
			logger.ErrorContext(ctx, "Scheduled backup failed", log.FieldError, err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule backups %q: %w", r.BackupSchedule, err)
	}
	return c, nil
}

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct {
	logger *log.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, log.FieldError, err)...)
}
