// Command outboxd runs the spending HTTP API and the outbox relay worker in
// a single process: one pgxpool pool backs both the command side (writes
// through outbox.UnitOfWork) and the relay (reads through outbox.Store).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aurum-outbox/internal/common/clock"
	"aurum-outbox/internal/common/config"
	"aurum-outbox/internal/common/logging"
	"aurum-outbox/internal/common/metrics"
	"aurum-outbox/internal/common/tracing"
	types "aurum-outbox/internal/common/valueobjects"
	"aurum-outbox/internal/outbox"
	"aurum-outbox/internal/outbox/admin"
	outboxpg "aurum-outbox/internal/outbox/postgres"
	"aurum-outbox/internal/outbox/publisher"
	"aurum-outbox/internal/outbox/relay"
	"aurum-outbox/internal/spending/application"
	"aurum-outbox/internal/spending/domain"
	spendingapi "aurum-outbox/internal/spending/api"
	spendingpg "aurum-outbox/internal/spending/infrastructure/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	startupCtx := logging.WithCorrelationID(context.Background(), types.NewCorrelationID())

	logging.InfoContext(startupCtx, "Starting outboxd",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"log_level", cfg.LogLevel,
	)

	tracerProvider, err := tracing.InitTracing(startupCtx, "outboxd", cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		logging.Error("Failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logging.Error("Tracer shutdown failed", "error", err)
		}
	}()
	if cfg.OTLPEndpoint != "" {
		logging.InfoContext(startupCtx, "Distributed tracing enabled", "otlp_endpoint", cfg.OTLPEndpoint)
	}

	pool, err := cfg.NewPostgresPool(startupCtx)
	if err != nil {
		logging.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = types.NewCorrelationID().String()
	}

	uow := outboxpg.NewUnitOfWork(pool, cfg.DBRetryCount)
	store := outboxpg.NewStore(pool)
	factory := spendingpg.NewRepositoriesFactory(pool)

	spendingService := application.NewSpendingService(uow, store, factory, factory.Reads(), clock.Real{})
	spendingHandler := spendingapi.NewHandler(spendingService)

	registry := outbox.NewRegistry()
	registry.Register(domain.EventTypeSpendAuthorized, decodeAny)
	registry.Register(domain.EventTypeSpendCaptured, decodeAny)
	registry.Register(domain.EventTypeSpendReversed, decodeAny)
	registry.Register(domain.EventTypeSpendExpired, decodeAny)

	pub, closePublisher := newPublisher(cfg, startupCtx)
	defer closePublisher()

	worker := relay.New(store, registry, pub, subjectFor(cfg), relay.Config{
		Interval:    cfg.PollInterval,
		BatchSize:   cfg.BatchSize,
		MaxAttempts: cfg.MaxAttempts,
		ClaimTTL:    cfg.ClaimTTL,
		InstanceID:  instanceID,
	})

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	relayDone := make(chan error, 1)
	go func() {
		relayDone <- worker.Run(relayCtx)
	}()
	logging.InfoContext(startupCtx, "Relay worker started", "instance_id", instanceID, "poll_interval", cfg.PollInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(cfg, pool, worker))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("/admin/outbox/", http.StripPrefix("/admin/outbox", admin.Router(store)))
	spendingHandler.RegisterRoutes(mux)

	logging.InfoContext(startupCtx, "Spending context initialized")

	handler := metrics.Middleware(correlationMiddleware(mux))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logging.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down")

	// Stop the relay before the HTTP server: in-flight publishes should
	// finish before we stop accepting new requests that feed the outbox.
	cancelRelay()
	<-relayDone

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logging.Info("Stopped")
}

// decodeAny passes the raw payload through unchanged; the relay only needs
// the event type tag and body to build the outbound message, not a typed
// struct, so the registry's job here is closing the set of known tags
// rather than materializing a domain type.
func decodeAny(payload []byte) (any, error) {
	var v json.RawMessage
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// subjectFor derives the per-event Kafka topic, honoring BrokerDestination
// as a fixed override, falling back to the type tag's short name (the part
// after its last '.') otherwise.
func subjectFor(cfg *config.Config) relay.Subjecter {
	return func(typeTag string) (string, string) {
		subject := cfg.BrokerDestination
		if subject == "" {
			subject = typeTag
			for i := len(typeTag) - 1; i >= 0; i-- {
				if typeTag[i] == '.' {
					subject = typeTag[i+1:]
					break
				}
			}
		}
		return subject, typeTag
	}
}

func newPublisher(cfg *config.Config, ctx context.Context) (publisher.Publisher, func()) {
	if cfg.IsDevelopment() {
		logging.InfoContext(ctx, "Using logging publisher (development mode)")
		return publisher.NewLoggingPublisher(), func() {}
	}
	kafkaPub := publisher.NewKafkaPublisher(splitBrokers(cfg.KafkaBrokers))
	return kafkaPub, func() { _ = kafkaPub.Close() }
}

func splitBrokers(s string) []string {
	var brokers []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				brokers = append(brokers, s[start:i])
			}
			start = i + 1
		}
	}
	return brokers
}

// requestTimeout is the maximum time allowed for processing a single request.
const requestTimeout = 5 * time.Second

// correlationMiddleware adds correlation ID and request timeout to each request.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corrID, err := types.ParseCorrelationID(r.Header.Get("X-Correlation-ID"))
		if err != nil {
			corrID = types.NewCorrelationID()
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		ctx = logging.WithCorrelationID(ctx, corrID)

		if tenantID := r.Header.Get("X-Tenant-ID"); tenantID != "" {
			if parsed, err := types.ParseTenantID(tenantID); err == nil {
				ctx = logging.WithTenantID(ctx, parsed)
			}
		}

		w.Header().Set("X-Correlation-ID", corrID.String())

		logging.InfoContext(ctx, "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// healthHandler returns basic health status.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// relayHealth is satisfied by relay.Worker; accepting the interface rather
// than the concrete type keeps this handler unit-testable with a fake.
type relayHealth interface {
	Health() error
}

// readyHandler is ready iff the database is reachable and the relay's last
// completed cycle ran without a top-level exception and its last publish
// attempt didn't fail transiently (broker reachable).
func readyHandler(cfg *config.Config, pool interface{ Ping(context.Context) error }, relay relayHealth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{
				"status": "not ready",
				"error":  fmt.Sprintf("database: %v", err),
			})
			return
		}
		if err := relay.Health(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "ready",
			"environment": cfg.Environment,
		})
	}
}
