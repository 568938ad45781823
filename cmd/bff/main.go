// Package main is the entry point for the ClamFlow BFF server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clamflow/clamflow-bff/internal/approval"
	"github.com/clamflow/clamflow-bff/internal/backend"
	"github.com/clamflow/clamflow-bff/internal/capability"
	"github.com/clamflow/clamflow-bff/internal/command"
	"github.com/clamflow/clamflow-bff/internal/config"
	"github.com/clamflow/clamflow-bff/internal/label"
	"github.com/clamflow/clamflow-bff/internal/metadata"
	"github.com/clamflow/clamflow-bff/internal/observability"
	"github.com/clamflow/clamflow-bff/internal/offline"
	"github.com/clamflow/clamflow-bff/internal/realtime"
	"github.com/clamflow/clamflow-bff/internal/search"
	"github.com/clamflow/clamflow-bff/internal/session"
	"github.com/clamflow/clamflow-bff/internal/transport"
	"github.com/clamflow/clamflow-bff/internal/workflow"
	"github.com/clamflow/clamflow-bff/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

// eventPolicyReloaded tells dashboards to refetch /api/me.
const eventPolicyReloaded = "policy_reloaded"

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags and load .env.
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "env file error: %v\n", err)
		return 1
	}

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "clamflow-bff", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.InitMetrics(registry)

	// Step 4: Load the role matrix.
	matrix, err := buildMatrix(cfg.Capability, logger)
	if err != nil {
		logger.Error("role matrix initialization failed", zap.Error(err))
		return 1
	}
	capResolver := capability.NewResolver(matrix, cfg.Capability.Cache.TTL).WithMetrics(metrics)

	// Step 5: Open shared stores.
	kv := newRedisPool()
	defer kv.Close()

	sessionStore, err := buildSessionStore(ctx, cfg.Session.Store, kv, logger)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		return 1
	}

	flowStore, flowStoreCloser, err := buildFlowStore(ctx, cfg.Workflow, logger)
	if err != nil {
		logger.Error("flow store initialization failed", zap.Error(err))
		return 1
	}
	if flowStoreCloser != nil {
		defer flowStoreCloser()
	}

	idempotencyStore, err := buildIdempotencyStore(ctx, cfg.Idempotency, kv, logger)
	if err != nil {
		logger.Error("idempotency store initialization failed", zap.Error(err))
		return 1
	}

	// Step 6: Sessions and the backend client.
	tokens := session.NewTokenParser(envOrEmpty(cfg.Identity.SigningSecretEnv), cfg.Identity.Algorithms)
	if !tokens.Verifies() {
		logger.Warn("backend token signatures are not verified; set identity.signing_secret_env to enable")
	}
	sessions := session.NewManager(sessionStore, tokens, cfg.Session.TTL, logger)

	client, err := backend.New(cfg.Backend,
		backend.WithLogger(logger),
		backend.WithMetrics(metrics),
		backend.WithUnauthorizedHandler(sessions.HandleUnauthorized),
	)
	if err != nil {
		logger.Error("backend client initialization failed", zap.Error(err))
		return 1
	}

	// Step 7: Domain services.
	tracker := workflow.NewTracker(flowStore, matrix).WithMetrics(metrics)
	approvals := approval.NewService(client, matrix, logger, metrics)
	hub := realtime.NewHub(logger, metrics)

	// The service token serves both the poller and offline replay.
	serviceToken := envOrEmpty(cfg.Approval.PollTokenEnv)
	pollToken := ""
	if cfg.Approval.PollEnabled {
		pollToken = serviceToken
	}
	poller := approval.NewPoller(approvals, hub, cfg.Approval.PollInterval, pollToken, logger, metrics)

	var syncer *offline.Syncer
	var queue offline.Queue
	if cfg.Offline.Enabled {
		queue, err = buildOfflineQueue(ctx, cfg.Offline.Store, kv, logger)
		if err != nil {
			logger.Error("offline queue initialization failed", zap.Error(err))
			return 1
		}
		syncer = offline.NewSyncer(queue, client, replayTokens(sessionStore, serviceToken),
			cfg.Offline.SyncInterval, logger, metrics).
			WithMaxRetries(cfg.Offline.MaxRetries).
			WithNotifier(hub)
	}

	lookups := search.NewLookupProvider(search.DefaultSources(client),
		cfg.Lookup.Cache.TTL, cfg.Lookup.Cache.MaxEntries, metrics)
	menu := metadata.NewMenuProvider(matrix, approvals, logger)
	labels := label.NewGenerator(client, logger, metrics)
	loginLimiter := transport.NewRateLimiter(cfg.RateLimit)

	// Step 8: Build HTTP router.
	readiness := observability.ReadinessChecks{
		Backend:      client,
		SessionStore: sessionStore,
		FlowStore:    observability.CheckerFunc(tracker.Ping),
	}
	if queue != nil {
		readiness.OfflineQueue = queue
	}
	if idempotencyStore != nil {
		readiness.IdempotencyStore = idempotencyStore
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Registry:     observability.Handler(registry),
		Ready:        readiness,
		Backend:      client,
		Sessions:     sessions,
		Matrix:       matrix,
		Capabilities: capResolver,
		Tracker:      tracker,
		Approvals:    approvals,
		Poller:       poller,
		Hub:          hub,
		Labels:       labels,
		Lookups:      lookups,
		Menu:         menu,
		Idempotency:  idempotencyStore,
		Syncer:       syncer,
		LoginLimiter: loginLimiter,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go poller.Run(bgCtx)
	go loginLimiter.Run(bgCtx)
	if syncer != nil {
		go syncer.Run(bgCtx)
	}
	if path := cfg.Capability.StaticPolicyFile; path != "" {
		go reloadPolicyOnHangup(bgCtx, path, matrix, capResolver, hub, logger, metrics)
	}

	// Step 10: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("backend", client.BaseURL()),
		zap.Bool("approval_poller", poller.Enabled()),
		zap.Bool("offline_sync", syncer != nil),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests. Open
	// approval streams end when their request contexts are cancelled.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel background tasks.
	bgCancel()

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

func envOrEmpty(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// buildMatrix loads the role matrix from the policy file, or the built-in
// matrix when none is configured.
func buildMatrix(cfg config.CapabilityConfig, logger *zap.Logger) (*capability.Matrix, error) {
	if cfg.StaticPolicyFile == "" {
		logger.Info("using built-in role matrix")
		return capability.DefaultMatrix(), nil
	}
	m, err := capability.LoadMatrix(cfg.StaticPolicyFile)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded role matrix", zap.String("file", cfg.StaticPolicyFile))
	return m, nil
}

// reloadPolicyOnHangup re-reads the role policy file on SIGHUP and tells
// connected dashboards to refetch their permissions.
func reloadPolicyOnHangup(ctx context.Context, path string, matrix *capability.Matrix, caps *capability.Resolver,
	hub *realtime.Hub, logger *zap.Logger, metrics *observability.Metrics,
) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := caps.Reload(matrix, path); err != nil {
				metrics.RecordPolicyReload("error")
				logger.Error("role policy reload failed", zap.String("file", path), zap.Error(err))
				continue
			}
			metrics.RecordPolicyReload("success")
			logger.Info("role policy reloaded", zap.String("file", path))
			if err := hub.Broadcast(eventPolicyReloaded, map[string]any{"reloaded_at": time.Now().UTC()}); err != nil {
				logger.Warn("announcing policy reload", zap.Error(err))
			}
		}
	}
}

// redisPool shares one client per address and database across stores.
type redisPool struct {
	clients map[string]*redis.Client
}

func newRedisPool() *redisPool {
	return &redisPool{clients: make(map[string]*redis.Client)}
}

func (p *redisPool) client(ctx context.Context, cfg config.KVStoreConfig) (*redis.Client, error) {
	addr := envOrEmpty(cfg.AddrEnv)
	if addr == "" {
		return nil, fmt.Errorf("redis driver selected but %q is not set", cfg.AddrEnv)
	}
	key := fmt.Sprintf("%s/%d", addr, cfg.DB)
	if c, ok := p.clients[key]; ok {
		return c, nil
	}

	c := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis %s: ping: %w", addr, err)
	}
	p.clients[key] = c
	return c, nil
}

func (p *redisPool) Close() {
	for _, c := range p.clients {
		_ = c.Close()
	}
}

func buildSessionStore(ctx context.Context, cfg config.KVStoreConfig, kv *redisPool, logger *zap.Logger) (session.Store, error) {
	if cfg.Driver != "redis" {
		logger.Info("using in-memory session store")
		return session.NewMemoryStore(), nil
	}
	c, err := kv.client(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	return session.NewRedisStore(c), nil
}

func buildOfflineQueue(ctx context.Context, cfg config.KVStoreConfig, kv *redisPool, logger *zap.Logger) (offline.Queue, error) {
	if cfg.Driver != "redis" {
		logger.Info("using in-memory offline queue")
		return offline.NewMemoryQueue(), nil
	}
	c, err := kv.client(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("offline queue: %w", err)
	}
	return offline.NewRedisQueue(c), nil
}

// buildIdempotencyStore returns nil when idempotency is disabled.
func buildIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, kv *redisPool, logger *zap.Logger) (command.IdempotencyStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Store.Driver != "redis" {
		logger.Info("using in-memory idempotency store")
		return command.NewMemoryIdempotencyStore(), nil
	}
	c, err := kv.client(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("idempotency store: %w", err)
	}
	return command.NewRedisIdempotencyStore(c), nil
}

// buildFlowStore creates the QC flow store based on config.
func buildFlowStore(ctx context.Context, cfg config.WorkflowConfig, logger *zap.Logger) (workflow.FlowStore, func(), error) {
	switch cfg.Store.Driver {
	case "memory", "":
		logger.Info("using in-memory flow store")
		return workflow.NewMemoryFlowStore(), nil, nil
	case "postgres":
		dsn := envOrEmpty(cfg.Store.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("flow store: %q environment variable not set", cfg.Store.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("flow store: parse DSN: %w", err)
		}
		if cfg.Store.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.Store.MaxOpenConns)
		}
		if cfg.Store.MaxIdleConns > 0 {
			poolCfg.MinConns = int32(cfg.Store.MaxIdleConns)
		}
		if cfg.Store.ConnMaxLifetime > 0 {
			poolCfg.MaxConnLifetime = cfg.Store.ConnMaxLifetime
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("flow store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("flow store: ping: %w", err)
		}

		store := workflow.NewPgFlowStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("flow store: schema: %w", err)
		}
		logger.Info("using postgres flow store")
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported flow store driver: %q", cfg.Store.Driver)
	}
}

// replayTokens replays an operation with its submitter's session token while
// that session is alive, and with the service token otherwise.
func replayTokens(store session.Store, serviceToken string) offline.TokenSource {
	return func(ctx context.Context, op model.Operation) string {
		if op.SessionID != "" {
			sess, found, err := store.Get(ctx, op.SessionID)
			if err == nil && found {
				return sess.Token
			}
		}
		return serviceToken
	}
}
