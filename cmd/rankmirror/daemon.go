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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func daemonCmd() *cobra.Command {
	var (
		interval    time.Duration
		daysBack    int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run sync in a loop with configurable interval",
		Long: `Continuously sync ranking snapshots and republish the spreadsheet on a timer.
Designed for running inside a Docker container or as a background service.
Handles SIGINT/SIGTERM for graceful shutdown (finishes the current cycle).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("interval") {
				interval = cfg.Sync.Interval
			}
			if !cmd.Flags().Changed("days-back") {
				daysBack = cfg.Sync.DaysBack
			}
			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %s", interval)
			}
			if err := cfg.Validate(true); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sig)

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			engine, err := openEngine(false, reg)
			if err != nil {
				return err
			}
			defer engine.Close()

			log := logger.Named("daemon")
			if metricsAddr != "" {
				srv := metricsServer(metricsAddr, reg)
				go func() {
					log.Info("metrics listening", zap.String("addr", metricsAddr))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error("metrics server failed", zap.Error(err))
					}
				}()
				defer func() {
					shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer shutdownCancel()
					srv.Shutdown(shutdownCtx)
				}()
			}

			log.Info("starting", zap.Duration("interval", interval), zap.Int("days_back", daysBack))

			cycle := 1
			for {
				start := time.Now()
				log.Info("cycle starting", zap.Int("cycle", cycle))

				if result, err := engine.Sync(ctx, daysBack); err != nil {
					log.Error("cycle failed", zap.Int("cycle", cycle), zap.Error(err))
				} else {
					log.Info("cycle completed",
						zap.Int("cycle", cycle),
						zap.Int("inserted", result.Inserted),
						zap.Int("published", result.Published),
						zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)),
					)
				}

				cycle++

				// Wait for the next tick or a shutdown signal.
				timer := time.NewTimer(interval)
				select {
				case <-sig:
					timer.Stop()
					log.Info("received shutdown signal, exiting")
					return nil
				case <-timer.C:
				}
			}
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", 24*time.Hour, "duration between sync cycles (default: sync.interval)")
	cmd.Flags().IntVarP(&daysBack, "days-back", "d", 3, "look back this many days for position checks (default: sync.days_back)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")
	return cmd
}

func metricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
