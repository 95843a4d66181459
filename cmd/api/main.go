package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/httpapi"
	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/identity"
	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/obs"
	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/store/pg"
	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/stream"
	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/tenant"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("PESARQ_PG_DSN")
	if dsn == "" {
		log.Fatal("missing PESARQ_PG_DSN")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	secret := os.Getenv("PESARQ_AUTH_SECRET")
	resolver, err := identity.NewResolver(secret)
	if err != nil {
		log.Fatalf("identity resolver: %v", err)
	}

	events := stream.New()
	notifier := httpapi.NewContextNotifier(events)

	bootstrapAdmins := splitList(os.Getenv("PESARQ_BOOTSTRAP_ADMINS"))
	registry := tenant.NewRegistry(
		tenant.Deps{
			Identity: resolver,
			Catalog:  store,
			Profiles: store,
			Links:    store,
		},
		[]tenant.Option{
			tenant.WithBootstrapAdmins(bootstrapAdmins),
			tenant.WithNotifier(notifier),
		},
	)

	api := httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version, resolver, registry, events)

	sessionGauge := time.NewTicker(15 * time.Second)
	defer sessionGauge.Stop()
	go func() {
		for range sessionGauge.C {
			obs.SetActiveSessions(registry.Len())
		}
	}()

	addr := os.Getenv("PESARQ_LISTEN_ADDR")
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

	log.Printf("Starting pesarq-api %s on %s", version, srv.Addr)

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
	registry.Close()
	_ = store.Close()
	log.Println("Stopped")
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
