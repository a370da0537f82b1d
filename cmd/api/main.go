package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rhombus.app/internal/config"
	"rhombus.app/internal/document"
	"rhombus.app/internal/events"
	"rhombus.app/internal/httpapi"
	"rhombus.app/internal/obs"
	"rhombus.app/internal/policy"
	"rhombus.app/internal/store/pg"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(cfg.Version, cfg.Commit)

	// Document storage: Postgres when a DSN is configured, otherwise the
	// in-memory store for local development.
	var (
		docStore document.Store
		db       *sql.DB
	)
	if cfg.PostgresDSN != "" {
		pgStore, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		docStore = pgStore
		db = pgStore.DB()
		defer pgStore.Close()
	} else {
		log.Println("RHOMBUS_PG_DSN not set, using in-memory store")
		docStore = document.NewInMemory()
	}

	policyClient := policy.New(cfg.PolicyBaseURL,
		policy.WithHTTPClient(&http.Client{Timeout: cfg.PolicyTimeout}),
		policy.WithAttempts(cfg.PolicyAttempts),
	)

	stream := events.New()
	api := httpapi.New(
		httpapi.ReadyProbe{DB: db},
		cfg.Version,
		document.NewService(docStore),
		docStore,
		policyClient,
		stream,
	)
	api.SetLimits(cfg.RateBurst, cfg.RatePerSecond, cfg.MaxBodyBytes)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting rhombus-api %s on %s", cfg.Version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
