package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/michaelbrown/labrunner/internal/config"
	"github.com/michaelbrown/labrunner/internal/exercise"
	"github.com/michaelbrown/labrunner/internal/logging"
	"github.com/michaelbrown/labrunner/internal/storage"
	"github.com/michaelbrown/labrunner/internal/storage/postgres"
	"github.com/michaelbrown/labrunner/internal/storage/sqlite"
)

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("loading config: %w", err)
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	return cfg, logging.New(cfg.Log, os.Stderr), nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg.Storage.DSN, cfg.Storage.MaxConns)
	default:
		return sqlite.Open(cfg.Storage.DBPath)
	}
}

func loadCatalog(cfg *config.Config) (*exercise.Catalog, error) {
	catalog, err := exercise.LoadDir(cfg.Exercises.Dir)
	if err != nil {
		return nil, fmt.Errorf("loading exercises: %w", err)
	}
	return catalog, nil
}
