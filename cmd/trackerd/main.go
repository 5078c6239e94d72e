// Package main runs the supply-chain tracking server: the item registry, the
// role registry and the settlement layer behind a REST API.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	app "github.com/ChainTrace-Network/tracking_layer/internal/app"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/config"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/httpapi"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/metrics"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/storage/postgres"
	"github.com/ChainTrace-Network/tracking_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		logger.NewDefault("trackerd").WithError(err).Error("load configuration")
		os.Exit(1)
	}

	log := logger.New(cfg.Logging).WithField("component", "trackerd")

	stores := app.Stores{}
	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			log.WithError(err).Error("open database")
			os.Exit(1)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		defer db.Close()

		store := postgres.New(db)
		if err := store.EnsureSchema(context.Background()); err != nil {
			log.WithError(err).Error("ensure database schema")
			os.Exit(1)
		}
		stores.Items = store
		stores.Roles = store
		log.Info("using postgres storage")
	} else {
		log.Warn("database url not set; using in-memory storage")
	}

	application, err := app.New(stores, app.Options{
		FeeCollector:    cfg.Ledger.FeeCollector,
		Spender:         cfg.Ledger.Spender,
		GenesisAdmin:    cfg.Ledger.GenesisAdmin,
		MonitorInterval: cfg.Monitor.Interval,
	}, log)
	if err != nil {
		log.WithError(err).Error("compose application")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", httpapi.NewHandler(application, httpapi.Config{
		Tokens:         cfg.Auth.Tokens,
		AuditFile:      cfg.Auth.AuditFile,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}))

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      metrics.InstrumentHandler(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("tracking api listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("server error")
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown error")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop error")
	}
	log.Info("stopped")
}
