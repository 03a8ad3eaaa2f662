// Command template-sync publishes template directories to the database.
//
// Usage:
//
//	template-sync -dir templates
//	template-sync -dir templates -upsert
//
// Each subdirectory holds a manifest (manifest.json or manifest.yaml) and
// subject.liquid plus html.liquid, html.md or text.liquid. Without -upsert
// only templates that do not exist yet are written. A lower revision, or an
// equal revision with different content, fails the whole run and nothing is
// written.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sungwon/mailqueue/internal/bootstrap"
	"github.com/sungwon/mailqueue/internal/config"
	"github.com/sungwon/mailqueue/internal/logger"
	"github.com/sungwon/mailqueue/internal/storage"
)

func main() {
	configDir := flag.String("config", "config", "directory containing config.yaml")
	dir := flag.String("dir", "", "template root directory (defaults to templates.dir)")
	upsert := flag.Bool("upsert", false, "update templates whose revision increased")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dir == "" {
		*dir = cfg.Templates.Dir
	}

	log := logger.NewFromConfig(cfg.Logging)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := storage.NewDB(ctx, cfg.Database.URL, cfg.Database.PoolMin, cfg.Database.PoolMax, cfg.Database.ConnectTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := storage.Migrate(ctx, db, log); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate")
		}
	}

	results, err := bootstrap.SyncTemplates(ctx, storage.NewTemplateStore(db.Pool), *dir, cfg.Templates.MaxBytes, *upsert, log)
	if err != nil {
		log.Error().Err(err).Str("dir", *dir).Msg("template sync failed")
		db.Close()
		os.Exit(1)
	}

	written := 0
	for _, r := range results {
		if r.Written {
			written++
		}
	}
	fmt.Printf("synced %d templates from %s, %d written\n", len(results), *dir, written)
}
