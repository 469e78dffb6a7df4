package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"kampus.org/internal/config"
	"kampus.org/internal/migrate"
	"kampus.org/internal/obs"
	"kampus.org/internal/store/pg"
)

func main() {
	configPath := flag.String("config", os.Getenv("KAMPUS_CONFIG"), "path to the YAML configuration")
	flag.Parse()

	log := obs.Logger()
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	store, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), nil)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		var applied bool
		applied, err = mgr.Seed(ctx, "action_catalog", func(ctx context.Context) error {
			return cfg.ActionCatalog().Apply(ctx, store)
		})
		if err == nil && !applied {
			log.Info("catalog already seeded")
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.WithError(err).Fatalf("migrate %s", flag.Arg(0))
	}
}
