package main

import (
	"context"
	"github.com/cenkalti/backoff/v5"
	"github.com/jtj60/dorado-exchange-sub004/internal/app"
	"github.com/jtj60/dorado-exchange-sub004/internal/engine"
	"go.uber.org/zap"
	"log"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, "dorado-sweeper", false)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer deps.Close()

	deps.Log.Info("sweeper started",
		zap.Duration("interval", deps.Cfg.SweepInterval),
		zap.Int("batch", deps.Cfg.SweepBatch), zap.Int("workers", deps.Cfg.SweepWorkers))
	run(ctx, deps.Engine, deps.Cfg.SweepInterval, deps.Log)
	deps.Log.Info("sweeper stopped")
}

// run sweeps every interval. A pass that fails outright, or leaves orders
// failed, delays the next pass on an exponential backoff capped at ten
// intervals.
func run(ctx context.Context, eng *engine.Engine, interval time.Duration, zl *zap.Logger) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	bo.MaxInterval = 10 * interval

	wait := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		rep, err := eng.ResolveExpiredOffers(ctx, time.Now().UTC())
		if err == nil {
			bo.Reset()
			wait = interval
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if wait = bo.NextBackOff(); wait == backoff.Stop {
			wait = bo.MaxInterval
		}
		zl.Warn("sweep pass failed",
			zap.Error(err), zap.Int("resolved", rep.Resolved()),
			zap.Strings("failed", rep.Failed), zap.Duration("retry_in", wait))
	}
}
