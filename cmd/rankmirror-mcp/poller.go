package main

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/allcookiesaccept/rankmirror"
)

// poller runs sync on a fixed interval in the background. It shares a lock
// with the sync_now tool so two runs never overlap.
type poller struct {
	engine   *rankmirror.Engine
	daysBack int
	interval time.Duration
	logger   *zap.Logger

	mu   *sync.Mutex
	done chan struct{}
}

func newPoller(engine *rankmirror.Engine, mu *sync.Mutex, daysBack int, interval time.Duration, logger *zap.Logger) *poller {
	return &poller{
		engine:   engine,
		daysBack: daysBack,
		interval: interval,
		logger:   logger,
		mu:       mu,
		done:     make(chan struct{}),
	}
}

// start launches the background loop. It syncs immediately, then on each
// tick of the configured interval.
func (p *poller) start(ctx context.Context) {
	go p.loop(ctx)
	p.logger.Info("poller started", zap.Duration("interval", p.interval), zap.Int("days_back", p.daysBack))
}

// stop signals the loop to exit.
func (p *poller) stop() {
	close(p.done)
	p.logger.Info("poller stopped")
}

// sync runs one cycle under the shared lock.
func (p *poller) sync(ctx context.Context) (*rankmirror.SyncResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result, err := p.engine.Sync(ctx, p.daysBack)
	if err != nil {
		return result, err
	}
	p.logger.Info("sync completed",
		zap.String("run_id", result.RunID),
		zap.Int("fetched", result.Fetched),
		zap.Int("inserted", result.Inserted),
		zap.Int("published", result.Published),
	)
	return result, nil
}

func (p *poller) loop(ctx context.Context) {
	if _, err := p.sync(ctx); err != nil {
		p.logger.Error("initial sync failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.sync(ctx); err != nil {
				p.logger.Error("sync failed", zap.Error(err))
			}
		}
	}
}
