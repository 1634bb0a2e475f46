// Command maintenance runs one-off store jobs against a stopped or running
// reservation engine: schema migration, an expiration sweep, a backup and a
// report of notifications that ran out of retries.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"staybook/internal/catalog"
	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/identity"
	"staybook/internal/logging"
	"staybook/internal/scheduler"
	"staybook/internal/service"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		dbPath    = flag.String("db", "./data/staybook.db", "path to sqlite db")
		backupDir = flag.String("backup-dir", "./backups", "where -backup writes snapshots")
		sweep     = flag.Bool("sweep", false, "complete every reservation whose stay has ended")
		backup    = flag.Bool("backup", false, "write a store snapshot")
		failed    = flag.Bool("failed-notifications", false, "list notifications that exhausted retries")
	)
	flag.Parse()

	// открытие базы само прогоняет миграции
	db, err := database.NewDB(*dbPath, logging.Component(&logger, "store"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	logger.Info().Str("db", *dbPath).Msg("schema is up to date")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if *sweep {
		lifecycle := service.NewReservationService(service.Dependencies{
			Store:     db,
			Catalog:   catalog.NewStaticCatalog(nil),
			Directory: identity.NewDirectory(config.IdentityConfig{}),
		}, 0, logging.Component(&logger, "lifecycle"))
		sched := scheduler.New(db, lifecycle, 0, logging.Component(&logger, "scheduler"))
		defer sched.Stop()

		n, err := sched.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		logger.Info().Int("completed", n).Msg("sweep done")
	}

	if *backup {
		backups := database.NewBackupService(db, config.BackupConfig{StoragePath: *backupDir}, logging.Component(&logger, "backup"))
		path, err := backups.PerformBackup(ctx)
		if err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		logger.Info().Str("path", path).Msg("backup written")
	}

	if *failed {
		msgs, err := db.GetFailedOutbox(ctx)
		if err != nil {
			return fmt.Errorf("failed notifications: %w", err)
		}
		for _, m := range msgs {
			ev := logger.Warn().Int64("id", m.ID).Str("kind", m.Kind).
				Str("reservation_id", m.ReservationID).Str("recipient", m.Recipient).Int("retries", m.RetryCount)
			if m.LastError != nil {
				ev = ev.Str("last_error", *m.LastError)
			}
			ev.Msg("notification undelivered")
		}
		logger.Info().Int("count", len(msgs)).Msg("failed notifications listed")
	}
	return nil
}
