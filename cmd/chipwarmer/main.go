package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/chipwarmer/chipwarmer/internal/account"
	"github.com/chipwarmer/chipwarmer/internal/agent"
	"github.com/chipwarmer/chipwarmer/internal/auth"
	"github.com/chipwarmer/chipwarmer/internal/config"
	"github.com/chipwarmer/chipwarmer/internal/httpapi"
	"github.com/chipwarmer/chipwarmer/internal/hub"
	"github.com/chipwarmer/chipwarmer/internal/journal"
	"github.com/chipwarmer/chipwarmer/internal/observability"
	"github.com/chipwarmer/chipwarmer/internal/protocol"
	"github.com/chipwarmer/chipwarmer/internal/script"
	"github.com/chipwarmer/chipwarmer/internal/warming"
)

func main() {
	// Load .env if present; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	cfgStore, err := config.NewStore()
	if err != nil {
		log.Fatalf("runtime config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	jrnl, err := journal.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("journal init failed: %v", err)
	}
	defer jrnl.Close()

	catalog, err := script.Load(cfg.ScriptsDir)
	if err != nil {
		log.Fatalf("script catalog load failed: %v", err)
	}
	log.Printf("script catalog loaded: %d scripts", len(catalog.Names()))

	relay := hub.New()
	registry := account.NewRegistry()
	registry.SetSessionLimit(func() int { return cfgStore.Security().MaxSessions })
	registry.SetNotifier(func() {
		metrics.ActiveAccounts.Set(float64(len(registry.List())))
		if cfgStore.System().Notifications {
			relay.BroadcastObservers(protocol.NewFullUpdate())
		}
	})

	table := warming.NewTable()
	warmer := warming.New(registry, table, catalog, relay, cfgStore, metrics, jrnl)

	runner := agent.NewRunner(cfg.AgentCommand, cfg.AgentArgs, cfg.AgentWorkDir, cfg.AgentAuthDir)
	if runner.Managed() {
		log.Printf("agent runner: %s (workdir %s)", cfg.AgentCommand, cfg.AgentWorkDir)
	} else {
		log.Printf("agent runner: unmanaged, agents connect out of band")
	}

	authn := auth.NewClient(cfg.AuthBackendURL, cfg.AuthBackendTimeout)

	api := httpapi.New(cfg, cfgStore, registry, table, warmer, relay, runner, authn, jrnl, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go warmer.Run(runCtx)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}
	runner.StopAll()

	log.Printf("shutdown complete")
}
