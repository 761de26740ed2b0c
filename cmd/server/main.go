// @title           Ops Console API
// @version         1.0.0
// @description     Multi-user operations console: host metrics, shared file workspace, audit trail and account administration.
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "Session token issued by POST /api/v1/auth/login: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness, version and host inspection endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics and pprof are served on dedicated side-channel ports, not on the API listener. Configure them with OPSC_TELEMETRY_METRICS_PROMETHEUS_PORT and OPSC_TELEMETRY_PROFILING_PORT.

// Package main is the entry point for the ops console server binary.
// It dispatches three subcommands (serve, migrate and version) with a switch
// on the first positional argument. serve migrates the account store and
// seeds the bootstrap admin before it accepts connections.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- served only on the profiling port, never on the API listener.
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/opsconsole/opsconsole/internal/api"
	"github.com/opsconsole/opsconsole/internal/audit"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/config"
	"github.com/opsconsole/opsconsole/internal/db"
	"github.com/opsconsole/opsconsole/internal/db/repositories"
	"github.com/opsconsole/opsconsole/internal/middleware"
	"github.com/opsconsole/opsconsole/internal/services"
	"github.com/opsconsole/opsconsole/internal/storage"
	_ "github.com/opsconsole/opsconsole/internal/storage/azure"
	_ "github.com/opsconsole/opsconsole/internal/storage/gcs"
	_ "github.com/opsconsole/opsconsole/internal/storage/local"
	_ "github.com/opsconsole/opsconsole/internal/storage/s3"
	"github.com/opsconsole/opsconsole/internal/sysinfo"
	"github.com/opsconsole/opsconsole/internal/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownTimeout   = 10 * time.Second
	dbStatsInterval   = 15 * time.Second
	sideServerTimeout = 10 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("opsconsole", flag.ContinueOnError)
	configPath := fs.StringP("config", "c", os.Getenv("OPSC_CONFIG_FILE"), "path to the YAML config file")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: opsconsole [--config FILE] [serve | migrate <up|down> | version]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	command := "serve"
	rest := fs.Args()
	if len(rest) > 0 {
		command = rest[0]
	}

	switch command {
	case "serve":
		return serve(*configPath)
	case "migrate":
		if len(rest) < 2 {
			return fmt.Errorf("usage: opsconsole migrate <up|down>")
		}
		cfg, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return runMigrations(cfg, rest[1])
	case "version":
		fmt.Printf("Ops Console %s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(configPath string) error {
	cfg, err := config.LoadAndWatch(configPath, func(next *config.Config) {
		telemetry.SetupLogger(next.Logging.Format, next.Logging.Level)
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Configure the logger first so everything below uses the configured format.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	secret, err := auth.ResolveJWTSecret(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}
	tokens, err := auth.NewTokenManager(secret, cfg.Auth.SessionTTL)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(cfg.Database.Driver, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("connected to account store", "driver", cfg.Database.Driver)

	telemetry.StartDBStatsCollector(ctx, database.DB, dbStatsInterval)

	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	directory := services.NewDirectory(
		repositories.NewAccountRepository(database, db.NewMigrator(database)),
		hasher,
		cfg.Auth.Bootstrap,
	)
	if err := directory.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize account directory: %w", err)
	}
	if schema, dirty, err := db.GetMigrationVersion(database.DB, cfg.Database.Driver); err != nil {
		slog.Warn("failed to read schema version", "error", err)
	} else {
		slog.Info("account store schema", "version", schema, "dirty", dirty)
	}
	if cfg.Auth.Bootstrap.UsesDefaultPassword() {
		slog.Warn("bootstrap admin still uses the default password; rotate it with cmd/hash",
			"username", cfg.Auth.Bootstrap.Username)
	}

	auditLog, err := audit.NewLog(cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer auditLog.Close()

	workspace, err := storage.NewWorkspace(cfg)
	if err != nil {
		return fmt.Errorf("failed to open workspace: %w", err)
	}
	slog.Info("workspace ready", "backend", cfg.Workspace.Backend)

	var limiter middleware.Limiter
	if cfg.Security.RateLimiting.Enabled {
		limiter, err = middleware.NewLimiter(cfg.Security.RateLimiting)
		if err != nil {
			return fmt.Errorf("failed to create rate limiter: %w", err)
		}
		defer limiter.Close()
		slog.Info("rate limiting auth endpoints", "backend", limiter.Backend(),
			"requests_per_minute", cfg.Security.RateLimiting.RequestsPerMinute)
	}

	if cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		startSideServer(ctx, "metrics", fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort), mux)
	}
	if cfg.Telemetry.Profiling.Enabled {
		// net/http/pprof registers on http.DefaultServeMux at init.
		startSideServer(ctx, "pprof", fmt.Sprintf(":%d", cfg.Telemetry.Profiling.Port), http.DefaultServeMux)
	}

	router := api.NewRouter(cfg, api.Dependencies{
		DB:            database,
		Workspace:     workspace,
		Directory:     directory,
		Authenticator: auth.NewAuthenticator(directory, hasher, auditLog),
		Tokens:        tokens,
		Files:         services.NewFileService(workspace, auditLog),
		Accounts:      services.NewAccountService(directory, auditLog),
		Audit:         services.NewAuditViewer(auditLog),
		System:        services.NewSystemService(sysinfo.New(cfg.Host)),
		Limiter:       limiter,
		Version:       version,
	})

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", server.Addr, "version", version, "tls", cfg.Security.TLS.Enabled)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// startSideServer serves handler on addr until ctx is cancelled.
func startSideServer(ctx context.Context, name, addr string, handler http.Handler) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  sideServerTimeout,
		WriteTimeout: 3 * sideServerTimeout,
	}
	go func() {
		slog.Info("starting side-channel server", "name", name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("side-channel server error", "name", name, "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func runMigrations(cfg *config.Config, direction string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	database, err := db.Connect(cfg.Database.Driver, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database.DB, cfg.Database.Driver, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	schema, dirty, err := db.GetMigrationVersion(database.DB, cfg.Database.Driver)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", schema, "dirty", dirty)
	return nil
}
