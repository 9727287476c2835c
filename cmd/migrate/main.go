// Command migrate applies the embedded auth schema migrations.
package main

import (
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/noah-isme/worklog-auth/pkg/config"
	"github.com/noah-isme/worklog-auth/pkg/database"
	"github.com/noah-isme/worklog-auth/pkg/logger"
)

func main() {
	direction := flag.String("direction", database.DirectionUp, "migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := database.Migrate(cfg.Database.URL(), *direction); err != nil {
		logr.Fatal("migration failed", zap.String("direction", *direction), zap.Error(err))
	}
	logr.Info("migration finished", zap.String("direction", *direction))
}
