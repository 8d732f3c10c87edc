package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prepaid/internal/app"
	"prepaid/internal/config"
	"prepaid/internal/db"
	"prepaid/internal/handlers"
	"prepaid/internal/logger"
	"prepaid/internal/reconcile"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output}, cfg.AppEnv)
	defer log.Sync()

	database, err := db.Connect(cfg.DatabaseURL, cfg.DB)
	if err != nil {
		log.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, database, log)
	if err != nil {
		log.Fatal("failed to build application", zap.Error(err))
	}
	defer a.Close()
	if err := a.Ping(ctx); err != nil {
		log.Fatal("dependency check failed", zap.Error(err))
	}

	go func() {
		if err := a.Settings.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("settings listener stopped", zap.Error(err))
		}
	}()
	if cfg.Sweep.Enabled {
		go reconcile.NewScheduler(a.Sweeper, cfg.Sweep, log.Named("sweep")).Run(ctx)
	}

	handler := handlers.New(a.TxRunner, cfg, a.Purchase, a.Wallet, a.Policy, a.Settings, a.Webhooks, a.Sweeper, a.Admins, a.Audit, a.Journal, a.Users, a.Hub, log.Named("http"))
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		// purchases wait on the provider's read timeout
		WriteTimeout: cfg.Provider.ConnectTimeout + cfg.Provider.ReadTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("prepaid API listening", zap.String("addr", server.Addr), zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
}
