// Package main is the entry point for the passport server binary.
// It dispatches three subcommands (serve, migrate and version) via a simple
// switch on os.Args. The serve command runs auto-migration on startup so
// freshly deployed containers never need a separate migration step.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ai4hf/passport/internal/api"
	"github.com/ai4hf/passport/internal/audit"
	"github.com/ai4hf/passport/internal/auth"
	"github.com/ai4hf/passport/internal/config"
	"github.com/ai4hf/passport/internal/crypto"
	"github.com/ai4hf/passport/internal/db"
	"github.com/ai4hf/passport/internal/db/repositories"
	"github.com/ai4hf/passport/internal/directory"
	"github.com/ai4hf/passport/internal/middleware"
	"github.com/ai4hf/passport/internal/passport"
	"github.com/ai4hf/passport/internal/relations"
	"github.com/ai4hf/passport/internal/signing"
	"github.com/ai4hf/passport/internal/storage"
	"github.com/ai4hf/passport/internal/telemetry"

	// Register archive backends
	_ "github.com/ai4hf/passport/internal/storage/azure"
	_ "github.com/ai4hf/passport/internal/storage/gcs"
	_ "github.com/ai4hf/passport/internal/storage/local"
	_ "github.com/ai4hf/passport/internal/storage/s3"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	configPath := os.Getenv("CONFIG_PATH")
	if command == "version" {
		fmt.Printf("passport v%s\n", version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg, configPath)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

// closers are run in reverse order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serve(cfg *config.Config, configPath string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)
	telemetry.SetupTracing(cfg.Telemetry.Tracing.Enabled)
	logger := slog.Default().With("service", cfg.Telemetry.ServiceName)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := config.Watch(configPath, func(next *config.Config) {
		telemetry.SetLogLevel(next.Logging.Level)
		slog.Info("log level reloaded", "level", next.Logging.Level)
	}); err != nil {
		slog.Info("config hot reload disabled", "reason", err)
	}

	var cleanup closers
	defer cleanup.run()

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.add(func() { _ = database.Close() })
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	telemetry.StartDBStatsCollector(database.DB)

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	deps, err := buildDependencies(context.Background(), cfg, database, logger, &cleanup)
	if err != nil {
		return err
	}

	if cfg.Telemetry.Metrics.Enabled {
		startMetricsServer(cfg.Telemetry.Metrics.PrometheusPort, &cleanup)
	}

	api.Version = version
	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      api.NewRouter(cfg, *deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", server.Addr, "tls", cfg.Security.TLS.Enabled, "archive", cfg.Archive.DefaultBackend)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	slog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("server stopped gracefully")
	return nil
}

// buildDependencies wires repositories, the audit recorder, the passport
// service and the optional Redis, LDAP, signing and archive integrations.
func buildDependencies(ctx context.Context, cfg *config.Config, database *sqlx.DB, logger *slog.Logger, cleanup *closers) (*api.Dependencies, error) {
	entities := repositories.NewEntityRepository(database)
	passportRepo := repositories.NewPassportRepository(database)
	ledgerRepo := repositories.NewLedgerRepository(database)
	auditRepo := repositories.NewAuditRepository(database)
	bindings := relations.NewPostgresBindings(database)
	inTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.InTx(ctx, database, fn)
	}

	var cipher *crypto.SnapshotCipher
	key, err := cfg.Audit.SnapshotKey()
	if err != nil {
		return nil, err
	}
	if key != nil {
		if cipher, err = crypto.NewSnapshotCipher(key); err != nil {
			return nil, fmt.Errorf("failed to initialize snapshot cipher: %w", err)
		}
		slog.Info("audit snapshots are encrypted at rest")
	}

	shipper, err := audit.NewMultiShipper(cfg.Audit.Shippers, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit shippers: %w", err)
	}
	cleanup.add(func() {
		if err := shipper.Close(); err != nil {
			slog.Warn("failed to close audit shippers", "error", err)
		}
	})

	people := directory.Chain{directory.NewPersonnel(entities)}
	if cfg.Directory.LDAP.Enabled {
		people = append(people, directory.NewLDAP(cfg.Directory.LDAP, 0))
		slog.Info("ldap directory enabled", "url", cfg.Directory.LDAP.URL)
	}

	recorderOpts := []audit.Option{
		audit.WithDirectory(people),
		audit.WithShipper(shipper),
		audit.WithTransactor(inTx),
		audit.WithLogger(logger),
	}
	if cipher != nil {
		recorderOpts = append(recorderOpts, audit.WithCipher(cipher))
	}
	recorder := audit.NewRecorder(auditRepo, ledgerRepo, recorderOpts...)
	book := audit.NewBook(ledgerRepo, auditRepo, cipher)

	assembler := passport.NewAssembler(passport.NewPostgresSource(database, entities, bindings), nil, logger)
	serviceOpts := []passport.ServiceOption{passport.WithServiceLogger(logger)}

	var limiter middleware.Limiter
	limiterCfg := middleware.RateLimitConfig{
		RequestsPerMinute: cfg.RateLimit.AssembliesPerMinute,
		BurstSize:         cfg.RateLimit.Burst,
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		cleanup.add(func() { _ = client.Close() })
		serviceOpts = append(serviceOpts, passport.WithCache(passport.NewRedisCache(client, cfg.Redis.CacheTTL)))
		if cfg.RateLimit.Enabled {
			limiter = middleware.NewRedisLimiter(redis_rate.NewLimiter(client), limiterCfg)
		}
		slog.Info("redis enabled", "addr", cfg.Redis.Addr)
	}
	if cfg.RateLimit.Enabled && limiter == nil {
		mem := middleware.NewMemoryLimiter(limiterCfg)
		cleanup.add(mem.Stop)
		limiter = mem
		slog.Warn("rate limiting is per process; enable redis to share the budget across replicas")
	}

	var archive storage.Storage
	if cfg.Signing.Enabled {
		signer, err := signing.LoadPrivateKey(cfg.Signing.PrivateKeyPath, []byte(cfg.Signing.Passphrase))
		if err != nil {
			return nil, fmt.Errorf("failed to load signing key: %w", err)
		}
		if archive, err = storage.NewStorage(&cfg.Archive); err != nil {
			return nil, fmt.Errorf("failed to initialize archive: %w", err)
		}
		serviceOpts = append(serviceOpts, passport.WithSigning(signer, archive))
		slog.Info("passport signing enabled", "key_id", signer.KeyID(), "archive", cfg.Archive.DefaultBackend)
	}

	tokens, err := auth.NewTokenService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("security configuration error: %w", err)
	}

	return &api.Dependencies{
		DB:        database,
		Passports: passport.NewService(assembler, passportRepo, ledgerRepo, recorder, serviceOpts...),
		Book:      book,
		Bindings:  bindings,
		Auditor:   recorder,
		InTx:      inTx,
		Tokens:    tokens,
		Limiter:   limiter,
		Archive:   archive,
		Logger:    logger,
	}, nil
}

// startMetricsServer serves /metrics on a dedicated port so it is not
// reachable through the public API ingress path.
func startMetricsServer(port int, cleanup *closers) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("starting Prometheus metrics server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	cleanup.add(func() { _ = srv.Close() })
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Printf("Running migrations: %s", direction)
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", v, dirty)
	return nil
}
