package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"modbusmgr/internal/adapter"
	"modbusmgr/internal/config"
	"modbusmgr/internal/domain"
	"modbusmgr/internal/handler"
	"modbusmgr/internal/hub"
	"modbusmgr/internal/logger"
	"modbusmgr/internal/nuvla"
	"modbusmgr/internal/repository/sqlite"
	"modbusmgr/internal/service"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the discovery and reconciliation loop",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, path, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logger.WithComponent("main")

	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Info().Str("config_file", path).Str("version", version).Msg("Starting modbusmgr")
	log.Info().Msg(cfg.Summary())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prober := newProber(cfg)
	if err := checkProber(ctx, prober); err != nil {
		return err
	}

	client, err := nuvla.New(nuvla.Config{
		Endpoint:  cfg.Registry.Endpoint,
		Insecure:  cfg.Registry.Insecure,
		APIKey:    cfg.Registry.APIKey,
		APISecret: cfg.Registry.APISecret,
		ParentID:  cfg.Registry.ParentID,
		Version:   cfg.Registry.Version,
		Timeout:   cfg.Registry.RequestTimeout.Duration(),
	}, nil, logger.WithComponent("nuvla"))
	if err != nil {
		return err
	}
	if err := client.Login(ctx); err != nil {
		if errors.Is(err, nuvla.ErrUnauthorized) {
			return fmt.Errorf("registry rejected the api key: %w", err)
		}
		// unreachable registry is transient; operations log in on demand
		log.Warn().Err(err).Msg("Registry login failed, will retry with the first operation")
	}

	resolver := domain.NewResolver(cfg.Reconcile.IncludeUnitID)
	parser := adapter.NewParser(resolver, logger.WithComponent("parser"))
	engine := service.NewEngine(resolver, service.EngineConfig{
		MissThreshold:      cfg.Reconcile.MissThreshold,
		IgnoreMetadataKeys: cfg.Reconcile.IgnoreMetadataKeys,
	}, logger.WithComponent("engine"))
	applier := service.NewApplier(client, cfg.Reconcile.MaxConcurrentOps, logger.WithComponent("applier"))

	sched := service.NewScheduler(service.SchedulerConfig{
		Target:         strings.Join(cfg.Targets(), ","),
		AutoTarget:     cfg.Scan.AutoTarget,
		Interval:       cfg.Scan.Interval.Duration(),
		BackoffCeiling: cfg.Scan.BackoffCeiling.Duration(),
		Jitter:         0.1,
	}, prober, parser, engine, applier, logger.WithComponent("scheduler"))

	if cfg.State.Path != "" {
		repo, err := sqlite.New(ctx, cfg.State.Path)
		if err != nil {
			return fmt.Errorf("open state database: %w", err)
		}
		defer repo.Close()
		sched.SetStore(repo)
		log.Info().Str("path", cfg.State.Path).Msg("Known peripherals persisted to sqlite")
	}

	eventBus := service.NewEventBus()
	sched.SetEventBus(eventBus)

	var server *http.Server
	if cfg.HTTP.Addr != "" {
		server = startAPI(ctx, cfg.HTTP.Addr, sched, eventBus)
	}

	runErr := sched.Run(ctx)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	log.Info().Msg("Stopped")
	return runErr
}

// startAPI serves the status API and streams scheduler events to SSE clients
func startAPI(ctx context.Context, addr string, sched *service.Scheduler, eventBus *service.EventBus) *http.Server {
	log := logger.WithComponent("http")

	sseHub := hub.New(logger.WithComponent("hub"))
	go sseHub.Run(ctx)

	eventChan := make(chan service.Event, 100)
	eventBus.Subscribe(eventChan)
	go func() {
		for {
			select {
			case event := <-eventChan:
				sseHub.Broadcast(event)
			case <-ctx.Done():
				return
			}
		}
	}()

	statusHandler := handler.NewStatusHandler(sched, log)
	statusHandler.SetEventStream(sseHub)

	mux := http.NewServeMux()
	statusHandler.Register(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           handler.Chain(mux, handler.Recover(log), handler.Logger(log)),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Status API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return server
}
