// Package server orchestrates all components: NATS client, DB, registry, dispatcher, HTTP API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"

	"github.com/morezero/module-registry/internal/config"
	"github.com/morezero/module-registry/pkg/commsutil"
	"github.com/morezero/module-registry/pkg/db"
	"github.com/morezero/module-registry/pkg/dispatcher"
	"github.com/morezero/module-registry/pkg/events"
	"github.com/morezero/module-registry/pkg/registry"
)

const logPrefix = "server:server"

// Server is the module-registry orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	pool       *pgxpool.Pool
	httpServer *http.Server
	reg        *registry.Registry
	sweeper    *cron.Cron
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info(fmt.Sprintf("%s - Starting module-registry", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{cfg: cfg}

	registrySubject := cfg.RegistrySubject
	if registrySubject == "" {
		registrySubject = commsutil.SubjectRegistry
	}
	slog.Info(fmt.Sprintf("%s - Registry subject: %s", logPrefix, registrySubject))

	// Step 1: Connect to NATS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	s.nc = nc
	slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", logPrefix, cfg.COMMSURL))

	// Step 2: Connect to database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		nc.Close()
		return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	s.pool = pool
	store := db.NewRepository(pool)

	// Step 2b: Run migrations and seed if enabled
	if cfg.RunMigrations {
		migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
		if err != nil {
			pool.Close()
			nc.Close()
			return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
			pool.Close()
			nc.Close()
			return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
		if err := db.SeedModules(ctx, store, cfg.SeedFile); err != nil {
			pool.Close()
			nc.Close()
			return fmt.Errorf("%s - failed to seed modules: %w", logPrefix, err)
		}
	}

	// Step 3: Create registry
	publisherOpts := &events.CommsPublisherOpts{}
	if cfg.ChangeEventSubject != "" {
		publisherOpts.GlobalChangeSubject = cfg.ChangeEventSubject
	}
	publisher := events.NewCommsPublisher(nc, publisherOpts)
	reg := registry.NewRegistry(registry.NewRegistryParams{
		Store:     store,
		Publisher: publisher,
		Config: registry.Config{
			StalenessThreshold: cfg.StalenessThreshold,
			EMAWeight:          cfg.HeartbeatEMAWeight,
			FailuresToError:    cfg.FailuresToError,
			StoreTimeout:       cfg.StoreTimeout,
		},
	})
	s.reg = reg

	// Step 4: Create dispatcher and subscribe
	disp := dispatcher.NewDispatcher(reg)

	requestTimeout := cfg.RequestTimeout
	sub, err := nc.Subscribe(registrySubject, func(msg *comms.Msg) {
		var req dispatcher.RegistryRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
			resp := &dispatcher.RegistryResponse{
				Ok: false,
				Error: &dispatcher.ErrorDetail{
					Code:    "INVALID_REQUEST",
					Message: "Failed to decode request",
				},
			}
			data, _ := json.Marshal(resp)
			msg.Respond(data)
			return
		}

		// Per-request context with timeout; optionally respect client deadline
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		if req.Ctx != nil && req.Ctx.TimeoutMs > 0 &&
			time.Duration(req.Ctx.TimeoutMs)*time.Millisecond < requestTimeout {
			reqCtx, cancel = context.WithTimeout(ctx, time.Duration(req.Ctx.TimeoutMs)*time.Millisecond)
		}
		defer cancel()

		resp := disp.Dispatch(reqCtx, &req)

		data, err := json.Marshal(resp)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, err))
			return
		}
		msg.Respond(data)
	})
	if err != nil {
		pool.Close()
		nc.Close()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, registrySubject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, registrySubject))

	// Step 5: Periodic staleness sweep
	s.sweeper = cron.New()
	_, err = s.sweeper.AddFunc(fmt.Sprintf("@every %s", cfg.SweepInterval), func() {
		sweepCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		if _, err := reg.Sweep(sweepCtx); err != nil {
			slog.Error(fmt.Sprintf("%s - sweep failed: %v", logPrefix, err))
		}
	})
	if err != nil {
		sub.Unsubscribe()
		pool.Close()
		nc.Close()
		return fmt.Errorf("%s - failed to schedule sweep: %w", logPrefix, err)
	}
	s.sweeper.Start()
	slog.Info(fmt.Sprintf("%s - Staleness sweep scheduled every %s", logPrefix, cfg.SweepInterval))

	// Step 6: Start HTTP API server
	httpAddr := cfg.HTTPAddr
	if httpAddr == "" {
		httpAddr = fmt.Sprintf(":%d", cfg.HTTPPort)
	}
	s.httpServer = &http.Server{
		Addr:    httpAddr,
		Handler: NewRouter(reg, cfg.HealthCheckTimeout),
	}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP API listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - Module-registry is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown
	sub.Unsubscribe()
	sweepStop := s.sweeper.Stop()
	<-sweepStop.Done()
	s.httpServer.Shutdown(ctx)
	nc.Drain()
	pool.Close()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}
