package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/allcookiesaccept/rankmirror"
	"github.com/allcookiesaccept/rankmirror/internal/config"
	"github.com/allcookiesaccept/rankmirror/internal/logging"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "config file path")
	dbPath := flag.String("db", "", "path to SQLite database (default: database.path from config)")
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rankmirror-web: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, closeLog, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rankmirror-web: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	logger = logger.Named("web")

	engine, err := rankmirror.NewEngine(rankmirror.EngineConfig{
		DBPath:   cfg.Database.Path,
		Logger:   logger,
		ReadOnly: true,
	})
	if err != nil {
		logger.Fatal("open engine", zap.Error(err))
	}
	defer engine.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := &http.Server{
		Addr:         *addr,
		Handler:      newRouter(engine, reg, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("listening", zap.String("addr", *addr), zap.String("db", cfg.Database.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	<-done
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", zap.Error(err))
		return
	}
	logger.Info("stopped")
}
