package main

import (
	"context"
	"github.com/jtj60/dorado-exchange-sub004/internal/app"
	kafkax "github.com/jtj60/dorado-exchange-sub004/internal/kafka"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/jtj60/dorado-exchange-sub004/internal/tracking"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"log"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, "dorado-tracking", false)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer deps.Close()

	h := &tracking.Handler{
		Engine: deps.Engine,
		Dedup:  &tracking.RedisDedup{Redis: deps.Redis, Service: "tracking"},
		Log:    deps.Log,
	}
	cons := kafkax.NewConsumer(deps.Cfg.KafkaBrokers, deps.Cfg.TrackingGroup,
		orders.TopicCarrierDeliveries, deps.Cfg.TrackingWorkers, deps.Log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deps.Log.Info("tracking consumer started",
			zap.String("group", deps.Cfg.TrackingGroup),
			zap.String("topic", orders.TopicCarrierDeliveries),
			zap.Int("workers", deps.Cfg.TrackingWorkers))
		return cons.Start(gctx, h.Handle)
	})
	if err := g.Wait(); err != nil {
		deps.Log.Error("consumer exited", zap.Error(err))
	}
	deps.Log.Info("tracking consumer stopped")
}
