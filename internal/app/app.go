// Package app wires configuration into the stores, caches and services every
// binary shares.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/passbi/intercity/internal/api"
	"github.com/passbi/intercity/internal/booking"
	"github.com/passbi/intercity/internal/cache"
	"github.com/passbi/intercity/internal/clock"
	"github.com/passbi/intercity/internal/config"
	"github.com/passbi/intercity/internal/db"
	"github.com/passbi/intercity/internal/events"
	"github.com/passbi/intercity/internal/materializer"
	"github.com/passbi/intercity/internal/metrics"
	"github.com/passbi/intercity/internal/network"
	"github.com/passbi/intercity/internal/seatmap"
	"github.com/passbi/intercity/internal/store/memory"
	"github.com/passbi/intercity/internal/store/postgres"
	"github.com/passbi/intercity/internal/topology"
)

// Store is everything the services and handlers need from persistence.
// Both the memory and the postgres store implement it.
type Store interface {
	booking.Store
	materializer.Directory
	materializer.TripStore
	api.Store
	SaveNetwork(ctx context.Context, n *network.Network) error
}

var (
	_ Store = (*memory.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)

// availability is implemented by cache.Availability and cache.Local
type availability interface {
	booking.AvailabilityCache
	materializer.Invalidator
}

type App struct {
	Config       *config.Config
	Store        Store
	Pool         *pgxpool.Pool // nil with the memory driver
	Redis        *redis.Client // nil when Redis is disabled
	NATS         *events.NATSPublisher
	Clock        clock.Clock
	Routes       *topology.Registry
	Seats        *seatmap.Resolver
	Engine       *booking.Engine
	Materializer *materializer.Materializer
	Metrics      *metrics.Collector
	Events       events.Publisher
}

// Build connects every configured backend. Postgres and Redis failures are fatal
// to the caller; a NATS failure falls back to dropping events.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:  cfg,
		Clock:   clock.System{Location: cfg.Location},
		Metrics: metrics.NewCollector(cfg.Booking.HoldTTL),
		Events:  events.Nop{},
	}

	switch cfg.StoreDriver {
	case "memory":
		a.Store = memory.New()
		log.Println("✓ Using in-memory store")
	default:
		db.Configure(cfg.DB)
		pool, err := db.GetDB()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.Pool = pool
		log.Println("✓ Database connection established")
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				a.Close()
				return nil, err
			}
		}
		a.Store = postgres.New(pool)
	}

	var avail availability = cache.NewLocal()
	var locker materializer.Locker
	if cfg.UseRedis {
		cache.Configure(cfg.Redis)
		rdb, err := cache.GetClient()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.Redis = rdb
		avail = cache.NewAvailability(rdb, cfg.Booking.CacheTTL)
		locker = cache.Locker{}
		log.Println("✓ Redis connection established")
	}

	if cfg.Events.NATSURL != "" {
		p, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Prefix, cfg.Events.LogSubjects, a.Metrics)
		if err != nil {
			log.Printf("⚠️  %v, events will be dropped", err)
		} else {
			a.NATS = p
			a.Events = p
			log.Printf("✓ Publishing events to %s", cfg.Events.NATSURL)
		}
	}

	a.Routes = topology.NewRegistry(a.Store)
	a.Seats = seatmap.NewResolver(a.Store)
	a.Engine = booking.NewEngine(a.Store, a.Routes, a.Seats, a.Clock, booking.Options{
		HoldTTL:   cfg.Booking.HoldTTL,
		ReapBatch: cfg.Booking.ReapBatch,
		Cache:     avail,
		Events:    a.Events,
		Metrics:   a.Metrics,
	})
	a.Materializer = materializer.New(a.Store, a.Store, a.Clock, materializer.Options{
		Selector: materializer.GetStrategy(cfg.Materializer.Strategy),
		Location: cfg.Location,
		Locker:   locker,
		LockTTL:  cfg.Materializer.LockTTL,
		Cache:    avail,
		Events:   a.Events,
		Metrics:  a.Metrics,
	})
	log.Printf("Configuration: store=%s redis=%v strategy=%s horizon=%dd hold=%s",
		cfg.StoreDriver, cfg.UseRedis, cfg.Materializer.Strategy, cfg.Materializer.HorizonDays, cfg.Booking.HoldTTL)
	return a, nil
}

// HealthChecks lists the backends /health probes
func (a *App) HealthChecks() []api.HealthCheck {
	var checks []api.HealthCheck
	if a.Pool != nil {
		checks = append(checks, api.HealthCheck{Name: "database", Check: db.HealthCheck})
	}
	if a.Redis != nil {
		checks = append(checks, api.HealthCheck{Name: "redis", Check: cache.HealthCheck})
	}
	if a.NATS != nil {
		checks = append(checks, api.HealthCheck{Name: "nats", Check: func(context.Context) error {
			if !a.NATS.Connected() {
				return fmt.Errorf("nats disconnected")
			}
			return nil
		}})
	}
	return checks
}

// Horizon returns the default materialization range starting today
func (a *App) Horizon() (time.Time, time.Time) {
	start := clock.Today(a.Clock)
	return start, start.AddDate(0, 0, a.Config.Materializer.HorizonDays-1)
}

// Close releases every connection Build opened
func (a *App) Close() {
	if a.NATS != nil {
		a.NATS.Close()
	}
	if a.Redis != nil {
		cache.Close()
	}
	if a.Pool != nil {
		db.Close()
	}
}
