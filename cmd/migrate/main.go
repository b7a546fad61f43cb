package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"waconsole/internal/database"

	"github.com/sirupsen/logrus"
)

// migrate applies the embedded journal schema to a database file and can
// prune old mutation rows without starting the console.
func main() {
	dbPath := flag.String("db", "./waconsole.db", "Path to the mutation journal")
	pruneDays := flag.Int("prune-days", 0, "Delete mutations older than this many days (0 keeps everything)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := run(*dbPath, *pruneDays, logger); err != nil {
		logger.WithError(err).Error("Journal maintenance failed")
		os.Exit(1)
	}
}

func run(dbPath string, pruneDays int, logger *logrus.Logger) error {
	db, err := database.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer db.Close()
	logger.WithField("path", dbPath).Info("Journal schema is up to date")

	if pruneDays <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	removed, err := db.CleanupOldMutations(ctx, pruneDays)
	if err != nil {
		return fmt.Errorf("failed to prune journal: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"retention_days": pruneDays,
		"removed":        removed,
	}).Info("Journal pruned")
	return nil
}
