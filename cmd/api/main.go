package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"veridia.org/internal/auth"
	"veridia.org/internal/catalog"
	"veridia.org/internal/compliance"
	"veridia.org/internal/fixorg"
	"veridia.org/internal/httpapi"
	"veridia.org/internal/obs"
	"veridia.org/internal/store/pg"
	"veridia.org/internal/stream"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	catalogDir := os.Getenv("VERIDIA_CATALOG_DIR")
	if catalogDir == "" {
		catalogDir = "ops/catalog"
	}
	cat, err := catalog.Load(catalogDir)
	if err != nil {
		log.Fatalf("load catalog: %v", err)
	}

	var (
		svc   compliance.Service
		ready httpapi.ReadyProbe
		store *pg.Store
	)
	if dsn := os.Getenv("VERIDIA_PG_DSN"); dsn != "" {
		store, err = pg.Open(dsn, cat)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		svc = store
		ready = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		log.Printf("VERIDIA_PG_DSN not set, using in-memory store")
		svc = compliance.NewInMemory(cat)
	}

	var verifier *auth.Verifier
	if secret := os.Getenv("VERIDIA_TOKEN_SECRET"); secret != "" {
		verifier, err = auth.NewVerifier(secret, auth.WithIssuer(os.Getenv("VERIDIA_TOKEN_ISSUER")))
		if err != nil {
			log.Fatalf("configure token verifier: %v", err)
		}
	} else {
		log.Printf("VERIDIA_TOKEN_SECRET not set, trusting X-Org-Id header")
	}

	events := stream.New()
	api := httpapi.New(httpapi.Config{
		Ready:    ready,
		Version:  version,
		Service:  svc,
		Catalog:  cat,
		Verifier: verifier,
		Events:   events,
	})

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional background reconciliation sweep.
	if raw := os.Getenv("VERIDIA_FIXORG_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse VERIDIA_FIXORG_INTERVAL: %v", err)
		}
		go fixorg.New(svc).RunPeriodically(rootCtx, interval)
	}

	addr := os.Getenv("VERIDIA_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting veridia-api %s on %s", version, srv.Addr)

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
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(ctx)
	if store != nil {
		_ = store.Close()
	}
	log.Println("Stopped")
}
