package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prepaid/internal/app"
	"prepaid/internal/config"
	"prepaid/internal/db"
	"prepaid/internal/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// requery runs a single reconciliation sweep over stale pending purchases
// and prints the counts. Meant for cron or manual use when the in-process
// scheduler is disabled.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	maxAge, err := parseMaxAge(os.Args[1:], cfg.Sweep.MaxAge)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output}, cfg.AppEnv)
	defer log.Sync()

	database, err := db.Connect(cfg.DatabaseURL, cfg.DB)
	if err != nil {
		log.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	a, err := app.New(cfg, database, log)
	if err != nil {
		log.Fatal("failed to build application", zap.Error(err))
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := a.Sweeper.Run(ctx, maxAge)
	if err != nil {
		log.Fatal("sweep failed", zap.Error(err))
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(stats)
}

// parseMaxAge reads -max-age in whole minutes, defaulting to the configured
// sweep age.
func parseMaxAge(args []string, fallback time.Duration) (time.Duration, error) {
	fs := flag.NewFlagSet("requery", flag.ContinueOnError)
	minutes := fs.Int("max-age", int(fallback/time.Minute), "only requery purchases pending longer than this many minutes")
	if err := fs.Parse(args); err != nil {
		return 0, err
	}
	if *minutes <= 0 {
		fs.Usage()
		return 0, fmt.Errorf("-max-age must be positive, got %d", *minutes)
	}
	return time.Duration(*minutes) * time.Minute, nil
}
