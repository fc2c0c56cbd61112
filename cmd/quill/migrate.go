package main

import (
	"fmt"
	"os"

	"github.com/quillchat/quill/internal/config"
	"github.com/quillchat/quill/internal/db"
)

func runMigrate() error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := db.Migrate(cfg.Postgres); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
