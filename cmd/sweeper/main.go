package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kampus.org/internal/config"
	"kampus.org/internal/document"
	"kampus.org/internal/obs"
	"kampus.org/internal/store/pg"
	"kampus.org/internal/stream"
	"kampus.org/internal/sweeper"
	"kampus.org/internal/visa"
)

var version = "0.1.0"

func main() {
	var (
		configPath = flag.String("config", os.Getenv("KAMPUS_CONFIG"), "path to the YAML configuration")
		once       = flag.Bool("once", false, "run every job once and exit")
	)
	flag.Parse()

	log := obs.Logger()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	obs.SetLevel(cfg.Log.Level)
	obs.Init()
	obs.InitBuildInfo("kampus-sweeper", version, "")

	store, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer store.Close()

	// transitions made here are not visible to API subscribers; the bus only
	// satisfies the services' publisher
	bus := stream.New()
	sw := sweeper.New(
		visa.NewService(store, bus, time.Now),
		document.NewService(store, bus, time.Now),
		sweeper.Config{
			ReminderSpec:   cfg.Sweeper.ReminderSpec,
			ExpirySpec:     cfg.Sweeper.ExpirySpec,
			ReminderWindow: cfg.Sweeper.ReminderWindow,
			Actions:        cfg.Sweeper.Actions,
		}, time.Now)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		err = sw.RunOnce(ctx)
	} else {
		err = sw.Run(ctx)
	}
	if err != nil {
		log.WithError(err).Fatal("sweeper failed")
	}
}
