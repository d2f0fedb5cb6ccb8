package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"playerident/db"
	"playerident/internal/auth"
	"playerident/internal/config"
	"playerident/internal/fetcher"
	"playerident/internal/metrics"
	"playerident/internal/presence"
	"playerident/internal/resolver"
	"playerident/internal/web"
	"playerident/middleware"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var log = logging.Logger("main")

const (
	statsInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

// runStatsReporter periodically logs the cache size and write backlog
func runStatsReporter(r *resolver.Resolver, dbManager *db.DBManager, done <-chan struct{}) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorw("Stats reporter panic recovered", "panic", rec, "stack", string(debug.Stack()))
		}
		log.Info("Stats reporter stopped")
	}()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			log.Infow("Resolver stats", "identities", r.Len(), "queuedWrites", dbManager.Len())
		}
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalw("Failed to load configuration", "err", err)
	}
	if err := logging.SetLogLevel("*", cfg.LogLevel); err != nil {
		log.Warnw("Invalid LOG_LEVEL, keeping default", "level", cfg.LogLevel, "err", err)
	}

	log.Infow("Starting playerident",
		"pid", os.Getpid(),
		"runtime", runtime.GOOS+"/"+runtime.GOARCH,
		"go", runtime.Version())

	sqliteDB, err := db.ConnectToSQLite(cfg.SQLitePath)
	if err != nil {
		log.Fatalw("Failed to connect to SQLite", "err", err)
	}
	if err := db.InitializeSchema(sqliteDB); err != nil {
		log.Fatalw("Failed to initialize database schema", "err", err)
	}

	repoFactory := db.NewRepositoryFactory(sqliteDB, cfg.DatabaseName)
	identityRepo := repoFactory.NewIdentityRepository()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// All identity writes go through a single queued worker
	dbManager := db.NewDBManager(identityRepo, cfg.WriteQueueSize, m)

	clk := clock.New()
	players := presence.NewRegistry(cfg.OnlineMode, clk)
	res := resolver.New(resolver.Deps{
		Store:     dbManager,
		Rows:      identityRepo,
		Env:       players,
		Client:    fetcher.NewClient(cfg.HTTPTimeout, cfg.HTTPRetryMax, clk),
		Clock:     clk,
		Metrics:   m,
		Endpoints: cfg.Endpoints,
	}, cfg.Fetchers)

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), time.Minute)
	if _, err := res.Load(loadCtx); err != nil {
		cancelLoad()
		log.Fatalw("Failed to load identity cache", "err", err)
	}
	cancelLoad()

	done := make(chan struct{})
	go runStatsReporter(res, dbManager, done)

	handlers := web.NewHandlers(res, players)
	router := handlers.SetupRoutes(auth.NewAuthHandlers(cfg), middleware.NewMiddleware(cfg), registry)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Server is starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	waitForShutdown(server, serverErr)

	close(done)
	// Writes queued by in-flight requests are flushed before the database closes
	dbManager.Stop()
	if err := identityRepo.Close(); err != nil {
		log.Errorw("Failed to close database", "err", err)
	}
	log.Info("Services stopped")
}

func waitForShutdown(server *http.Server, serverErr <-chan error) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case sig := <-stop:
		log.Infow("Received shutdown signal", "signal", sig.String())
	case err, ok := <-serverErr:
		if ok {
			log.Errorw("Server stopped unexpectedly", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("Shutting down the server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Server shutdown error", "err", err)
	}
}
