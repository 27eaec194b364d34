// migrate applies the embedded SQL migrations: go run ./cmd/migrate -direction up|down.
package main

import (
	"errors"
	"flag"
	"log"

	"go.uber.org/zap"

	"coresuite/backend/internal/config"
	"coresuite/backend/internal/db/migrate"
	"coresuite/backend/internal/logging"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("migrate: no change", zap.String("direction", *direction))
			return
		}
		logger.Fatal("migrate: failed", zap.String("direction", *direction), zap.Error(err))
	}
	logger.Info("migrate: done", zap.String("direction", *direction))
}
