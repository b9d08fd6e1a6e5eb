// rankmirror-mcp is a standalone MCP server for the rankmirror sync engine.
// It opens the rankmirror SQLite database and serves snapshot, run and sync
// tools over stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/allcookiesaccept/rankmirror"
	"github.com/allcookiesaccept/rankmirror/internal/config"
	"github.com/allcookiesaccept/rankmirror/internal/logging"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "config file path")
	dbPath := flag.String("db", "", "path to SQLite database (default: database.path from config)")
	poll := flag.Duration("poll", 0, "run sync in the background on this interval (0 disables)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rankmirror-mcp: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	// stdout carries the protocol.
	if cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	logger, closeLog, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rankmirror-mcp: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	logger = logger.Named("mcp")

	// Without credentials the store is still browsable; sync tools report
	// the engine as read-only.
	readOnly := false
	if err := cfg.Validate(true); err != nil {
		logger.Warn("sync disabled", zap.Error(err))
		readOnly = true
	}

	engine, err := rankmirror.NewEngine(rankmirror.EngineConfig{
		DBPath:            cfg.Database.Path,
		TopvisorBaseURL:   cfg.Topvisor.BaseURL,
		UserID:            cfg.Topvisor.UserID,
		APIKey:            cfg.Topvisor.APIKey,
		RequestsPerSecond: cfg.Topvisor.RequestsPerSecond,
		RequestTimeout:    cfg.Topvisor.Timeout,
		SpreadsheetID:     cfg.Sheets.SpreadsheetID,
		CredentialsFile:   cfg.Sheets.CredentialsFile,
		SheetName:         cfg.Sheets.SheetName,
		RangeStart:        cfg.Sheets.RangeStart,
		Projects:          cfg.Projects,
		Logger:            logger,
		ReadOnly:          readOnly,
	})
	if err != nil {
		logger.Fatal("create engine", zap.Error(err))
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := newServer(engine, cfg.Sync.DaysBack, logger)

	if *poll > 0 && !readOnly {
		p := newPoller(engine, &srv.syncMu, cfg.Sync.DaysBack, *poll, logger.Named("poller"))
		p.start(ctx)
		defer p.stop()
	}

	if err := srv.run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}
