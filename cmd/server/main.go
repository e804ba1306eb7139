/*
main.go - Application entry point

PURPOSE:
  Starts the leave balance and accrual engine server. Loads configuration,
  wires the store, engine, event bridge and accrual scheduler, and shuts
  everything down in reverse order on a signal.

STARTUP SEQUENCE:
  1. Load .env (if present) and configuration
  2. Initialize logger and SQLite store
  3. Create the engine and seed policies for configured tenants
  4. Attach the balance-change event bridge
  5. Start the accrual scheduler
  6. Start the HTTP server

CONFIGURATION:
  See config/config.go. Every key can be set through a LEAVE_ prefixed
  environment variable, e.g. LEAVE_SERVER_PORT, LEAVE_DATABASE_PATH,
  LEAVE_RABBITMQ_URL, LEAVE_POLICIES_TENANTS.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections and drain active requests
  2. Stop the accrual scheduler
  3. Stop the event bridge and close the publisher
  4. Close the database

EXAMPLES:
  # Run with an in-memory database and the demo scenarios
  LEAVE_DATABASE_PATH=":memory:" ./server

  # Seed two tenants with the bundled preset
  LEAVE_POLICIES_TENANTS="acme globex" ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Accrual refresh
  - events/bridge.go: Balance-change publishing
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/events"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/logger"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/timeoff"
)

const serviceName = "leave-engine"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment).SetLevel(cfg.Server.LogLevel)

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("failed to initialize database")
	}
	defer store.Close()

	eng := timeoff.NewEngine(store, timeoff.WithLogger(log.WithComponent("engine").Logger))

	if err := seedTenants(context.Background(), eng, cfg.Policies, log); err != nil {
		log.Fatal().Err(err).Msg("failed to seed policies")
	}

	// Events
	publisher, err := newPublisher(cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to message broker")
	}
	defer publisher.Close()

	bridge := events.NewBridge(publisher, serviceName, log, events.DefaultQueueSize)
	detach := bridge.Attach(eng.Signal())
	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		bridge.Run(bridgeCtx)
	}()

	// Scheduler
	scheduler := api.NewAccrualScheduler(eng, log)
	scheduler.Interval = cfg.Scheduler.Interval
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Start()

	// HTTP
	handler := api.NewHandler(eng, log)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		EnableScenarios: cfg.Server.Environment == config.EnvDevelopment,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("environment", cfg.Server.Environment).
			Msg("leave engine starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	scheduler.Stop()

	detach()
	stopBridge()
	<-bridgeDone
	if n := bridge.Dropped(); n > 0 {
		log.Warn().Uint64("dropped", n).Uint64("failed", bridge.Failed()).Msg("balance events not delivered")
	}

	log.Info().Msg("server stopped")
}

func newPublisher(cfg config.RabbitMQConfig, log *logger.Logger) (events.Publisher, error) {
	if !cfg.Enabled() {
		log.Info().Msg("rabbitmq not configured, logging balance events")
		return events.NewLogPublisher(log), nil
	}
	return events.NewAMQPPublisher(cfg.URL, cfg.Exchange, log)
}

// seedTenants creates each configured tenant if missing and gives it the
// configured policy set when it has no policies yet.
func seedTenants(ctx context.Context, eng *timeoff.Engine, cfg config.PoliciesConfig, log *logger.Logger) error {
	if len(cfg.Tenants) == 0 {
		return nil
	}

	var seedFile []byte
	if cfg.SeedFile != "" {
		data, err := os.ReadFile(cfg.SeedFile)
		if err != nil {
			return fmt.Errorf("read seed file: %w", err)
		}
		seedFile = data
	}

	f := factory.NewPolicyFactory()
	for _, name := range cfg.Tenants {
		tenant := generic.TenantID(name)
		tlog := log.WithTenant(name)

		if _, err := eng.GetTenant(ctx, tenant); err != nil {
			if !generic.IsNotFound(err) {
				return err
			}
			if err := eng.SaveTenant(ctx, timeoff.Tenant{ID: tenant, Name: name}); err != nil {
				return fmt.Errorf("create tenant %s: %w", name, err)
			}
			tlog.Info().Msg("tenant created")
		}

		existing, err := eng.ListPolicies(ctx, tenant)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}

		var policies []timeoff.LeavePolicy
		if seedFile != nil {
			policies, err = f.ForTenant(seedFile, tenant)
		} else {
			policies, err = f.SeedPolicies(cfg.Preset, tenant)
		}
		if err != nil {
			return fmt.Errorf("tenant %s: %w", name, err)
		}
		for _, p := range policies {
			issues, err := eng.SavePolicy(ctx, p)
			if err != nil {
				return fmt.Errorf("tenant %s policy %s: %w", name, p.ID, err)
			}
			for _, is := range issues {
				tlog.Warn().Str("policy", p.ID).Str("code", is.Code).Msg(is.Message)
			}
		}
		tlog.Info().Int("policies", len(policies)).Msg("policies seeded")
	}
	return nil
}
