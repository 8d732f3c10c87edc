package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"prepaid/internal/config"
	"prepaid/internal/db"
	"prepaid/internal/logger"
	"prepaid/internal/store"
	"prepaid/migrations"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	down := flag.Bool("down", false, "roll back every migration")
	bootstrapAdmin := flag.String("bootstrap-admin", "", "user id to register as the first super admin")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output}, cfg.AppEnv)
	defer log.Sync()

	database, err := db.Connect(cfg.DatabaseURL, cfg.DB)
	if err != nil {
		log.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	if err := run(database, *down, log); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	if *bootstrapAdmin != "" {
		if err := bootstrap(context.Background(), database, *bootstrapAdmin, log); err != nil {
			log.Fatal("bootstrap admin failed", zap.Error(err))
		}
	}
}

func run(database *sqlx.DB, down bool, log *zap.Logger) error {
	driver, err := postgres.WithInstance(database.DB, &postgres.Config{})
	if err != nil {
		return err
	}
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return err
	}

	if down {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return verr
	}
	log.Info("migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty), zap.Bool("down", down))
	return nil
}

// bootstrap creates the first super admin. It is a no-op once any admin exists.
func bootstrap(ctx context.Context, database *sqlx.DB, userID string, log *zap.Logger) error {
	admins := store.NewAdminStore(database)
	exists, err := admins.HasAnyAdmin(ctx)
	if err != nil {
		return err
	}
	if exists {
		log.Info("admin already present, skipping bootstrap")
		return nil
	}
	users := store.NewUserStore(database)
	ok, err := users.Exists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %s not found", userID)
	}

	audit := store.NewAuditStore(database)
	err = db.NewTxRunner(database).WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := admins.CreateAdmin(ctx, tx, userID, true, nil); err != nil {
			return err
		}
		return audit.Log(ctx, tx, store.AuditEntry{
			ActorID:    store.ActorSystem,
			Action:     store.AuditAdminPromoted,
			EntityType: "admin",
			EntityID:   userID,
			Data:       map[string]any{"is_super": true, "bootstrap": true},
		})
	})
	if err != nil {
		return err
	}
	log.Info("bootstrap super admin created", zap.String("user_id", userID))
	return nil
}
