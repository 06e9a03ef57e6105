// Command migrate applies the embedded schema migrations to DATABASE_URL.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ignite/mailpipe/internal/config"
	"github.com/ignite/mailpipe/internal/pkg/logger"
	"github.com/ignite/mailpipe/internal/repository/postgres"
)

func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		logger.Error("connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	applied, err := postgres.Migrate(ctx, db)
	if err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Applied %d migration(s)\n", len(applied))
	for _, name := range applied {
		fmt.Println(" ", name)
	}
}
