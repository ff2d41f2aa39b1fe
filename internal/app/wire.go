// Package app assembles the engine and its collaborators for the binaries.
package app

import (
	"context"
	"fmt"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jtj60/dorado-exchange-sub004/internal/carrier"
	"github.com/jtj60/dorado-exchange-sub004/internal/config"
	"github.com/jtj60/dorado-exchange-sub004/internal/engine"
	kafkax "github.com/jtj60/dorado-exchange-sub004/internal/kafka"
	"github.com/jtj60/dorado-exchange-sub004/internal/logger"
	"github.com/jtj60/dorado-exchange-sub004/internal/negotiation"
	"github.com/jtj60/dorado-exchange-sub004/internal/notify"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/jtj60/dorado-exchange-sub004/internal/payout"
	"github.com/jtj60/dorado-exchange-sub004/internal/postgres"
	"github.com/jtj60/dorado-exchange-sub004/internal/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps holds the process-wide resources. Close releases them in reverse
// order of acquisition.
type Deps struct {
	Cfg      config.Config
	Log      *zap.Logger
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Producer *kafkax.Producer
	Cache    *notify.StatusCache
	Engine   *engine.Engine
}

// Open loads configuration and connects everything the engine needs. With
// migrate set, the embedded schema migrations run before it returns.
func Open(ctx context.Context, service string, migrate bool) (*Deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.ServiceName = service
	log, err := logger.NewZapLog(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if migrate {
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, err
		}
		log.Info("migrations applied")
	}

	rdb := redisx.New(cfg.RedisAddr)
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024, log)
	prod.Start()
	cache := &notify.StatusCache{Redis: rdb}

	eng := &engine.Engine{
		Store:   &orders.Repo{DB: db},
		Spots:   &redisx.SpotFeed{Redis: rdb, MaxAge: redisx.MaxSpotAge},
		Carrier: carrier.New(cfg.CarrierURL, cfg.CollaboratorTimeout),
		Payout:  payout.New(cfg.PayoutURL, cfg.CollaboratorTimeout),
		Notifier: &notify.Notifier{
			Producer: prod,
			Cache:    cache,
			Service:  cfg.ServiceName,
		},
		Log: log,
		Policy: negotiation.Policy{
			LockedWindow:   cfg.LockedOfferWindow,
			UnlockedWindow: cfg.UnlockedOfferWindow,
		},
		SweepBatch:    cfg.SweepBatch,
		SweepWorkers:  cfg.SweepWorkers,
		SweepCooldown: cfg.SweepCooldown,
	}

	return &Deps{Cfg: cfg, Log: log, DB: db, Redis: rdb, Producer: prod, Cache: cache, Engine: eng}, nil
}

func (d *Deps) Close() {
	d.Producer.Close()
	d.Producer.WaitClosed()
	_ = d.Redis.Close()
	d.DB.Close()
	_ = d.Log.Sync()
}
