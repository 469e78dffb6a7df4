package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"kampus.org/internal/auth"
	"kampus.org/internal/config"
	"kampus.org/internal/document"
	"kampus.org/internal/files"
	"kampus.org/internal/guest"
	"kampus.org/internal/httpapi"
	"kampus.org/internal/identity"
	"kampus.org/internal/notify"
	"kampus.org/internal/obs"
	"kampus.org/internal/store/pg"
	"kampus.org/internal/store/redisstore"
	"kampus.org/internal/stream"
	"kampus.org/internal/sweeper"
	"kampus.org/internal/translation"
	"kampus.org/internal/visa"
	"kampus.org/internal/workflow"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("KAMPUS_CONFIG"), "path to the YAML configuration")
	flag.Parse()

	log := obs.Logger()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	obs.SetLevel(cfg.Log.Level)
	obs.Init()
	obs.InitBuildInfo("kampus-api", version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("kampus-api stopped")
	}
	log.Info("stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	log := obs.Logger()

	proxies, err := cfg.HTTP.ProxyPrefixes()
	if err != nil {
		return err
	}

	store, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	var refresh auth.RefreshStore
	if cfg.Redis.URL != "" {
		client, err := redisstore.Dial(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		refresh = redisstore.NewRefreshStore(client)
	} else {
		log.Warn("redis not configured; refresh credentials are kept in memory")
		refresh = auth.NewMemoryRefreshStore()
	}

	var verifier files.Verifier = files.Presence{}
	if cfg.Files.Bucket != "" {
		s3v, err := files.NewS3(ctx, cfg.Files)
		if err != nil {
			return err
		}
		verifier = s3v
	}

	bus := stream.New(stream.OnDrop(func(ev workflow.Event) {
		log.WithField("entity_id", ev.EntityID).Warn("event dropped for slow subscriber")
	}))
	resolver := identity.NewResolver(store)
	authSvc, err := auth.NewService(store, resolver, refresh,
		auth.WithSigningKey(cfg.Auth.SigningKey),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
	)
	if err != nil {
		return err
	}

	documents := document.NewService(store, bus, time.Now)
	visas := visa.NewService(store, bus, time.Now)

	api := httpapi.New(httpapi.Deps{
		Auth:         authSvc,
		Admin:        identity.NewAdmin(store, refresh),
		Resolver:     resolver,
		Documents:    documents,
		Visas:        visas,
		Guests:       guest.NewService(store, bus, time.Now),
		Translations: translation.NewService(store, verifier, bus, time.Now),
		Events:       bus,
		Ready:        httpapi.ReadyFunc(store.Ping),
	}, httpapi.Options{
		Version:             version,
		ExposeMissingAction: cfg.HTTP.ExposeMissingAction,
		CORSOrigins:         cfg.HTTP.CORSOrigins,
		MaxBodyBytes:        cfg.HTTP.MaxBodyBytes,
		RateBurst:           cfg.HTTP.RateLimit.Burst,
		RatePerSec:          cfg.HTTP.RateLimit.RPS,
		TrustedProxies:      proxies,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", srv.Addr).WithField("version", version).Info("kampus-api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return notify.New(bus, nil).Run(ctx)
	})
	if cfg.Sweeper.Enabled {
		sw := sweeper.New(visas, documents, sweeper.Config{
			ReminderSpec:   cfg.Sweeper.ReminderSpec,
			ExpirySpec:     cfg.Sweeper.ExpirySpec,
			ReminderWindow: cfg.Sweeper.ReminderWindow,
			Actions:        cfg.Sweeper.Actions,
		}, time.Now)
		g.Go(func() error { return sw.Run(ctx) })
	}
	return g.Wait()
}
