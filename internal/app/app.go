// Package app wires a configured Agora Service: logger, tracing, record store,
// event bus (with the optional Redis relay) and the service facade itself.
// Both the agora CLI and the agorad daemon bootstrap through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/agora/internal/config"
	"github.com/dyluth/agora/internal/events"
	"github.com/dyluth/agora/internal/logger"
	"github.com/dyluth/agora/internal/service"
	"github.com/dyluth/agora/internal/tracer"
	"github.com/dyluth/agora/pkg/records"
)

// App is a running Service plus the resources it owns.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Service *service.Service

	// Redis is set when the store driver is redis; the CLI uses it to subscribe to events.
	Redis *records.Client

	closers []func() error
}

// Option tweaks bootstrap.
type Option func(*options)

type options struct {
	logger *slog.Logger
	store  records.Store
}

// WithLogger replaces the configured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStore injects an already open store instead of opening one from config.
// The App does not close injected stores.
func WithStore(s records.Store) Option {
	return func(o *options) { o.store = s }
}

// New bootstraps an App from cfg. The store is pinged before returning.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}

	a.Logger = o.logger
	if a.Logger == nil {
		l, closeLog, err := logger.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		a.Logger = l
		a.closers = append(a.closers, closeLog)
	}
	a.Logger = a.Logger.With("instance", cfg.Instance)

	shutdownTracing, err := tracer.Setup(ctx, cfg.Tracing)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.closers = append(a.closers, func() error { return shutdownTracing(context.Background()) })

	store := o.store
	if store == nil {
		store, err = a.openStore(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
	} else if rc, ok := store.(*records.Client); ok {
		a.Redis = rc
	}

	if err := store.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("record store not accessible: %w", err)
	}

	bus := events.New(a.Logger.With("component", "events"))
	if a.Redis != nil && cfg.Events.RelayEnabled() {
		bus.SubscribeAll(events.Relay(a.Redis, a.Logger))
		a.Logger.Debug("event relay enabled", "channel", records.EventsChannel(cfg.Instance))
	}

	svc, err := service.New(service.Deps{
		Store:               store,
		Bus:                 bus,
		Logger:              a.Logger,
		DiscoveryLimit:      cfg.Discovery.DefaultLimit,
		ConsensusThreshold:  cfg.Collaborators.DefaultConsensusThreshold,
		CollaboratorTimeout: cfg.Collaborators.Timeout,
		Breaker:             cfg.Collaborators.Breaker,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	a.Service = svc

	a.Logger.Info("agora ready", "store", cfg.Store.Driver)
	return a, nil
}

func (a *App) openStore(cfg *config.Config) (records.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverRedis:
		redisOpts, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client, err := records.NewClient(redisOpts, cfg.Instance, records.WithOpTimeout(cfg.Store.OpTimeout))
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		a.Redis = client
		return client, nil

	case config.DriverSQLite:
		s, err := records.OpenSQLite(cfg.Store.SQLitePath, records.WithOpTimeout(cfg.Store.OpTimeout))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// Close releases everything New opened, most recent first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
