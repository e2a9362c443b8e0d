// Package app assembles the geostream process from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"fleet-monitor/geostream/internal/animation"
	"fleet-monitor/geostream/internal/auth"
	"fleet-monitor/geostream/internal/clock"
	"fleet-monitor/geostream/internal/config"
	"fleet-monitor/geostream/internal/domain"
	"fleet-monitor/geostream/internal/fleetstate"
	"fleet-monitor/geostream/internal/geofence"
	"fleet-monitor/geostream/internal/pipeline"
	"fleet-monitor/geostream/internal/publisher/rabbitmq"
	"fleet-monitor/geostream/internal/routing"
	"fleet-monitor/geostream/internal/store"
	"fleet-monitor/geostream/internal/stream"
	transporthttp "fleet-monitor/geostream/internal/transport/http"
	"fleet-monitor/geostream/internal/transport/ws"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	cfg   *config.Config
	clock clock.Clock

	Store      *fleetstate.Store
	Animator   *animation.Engine
	Geofences  *geofence.Engine
	Frames     *pipeline.FrameLoop
	Dispatcher *pipeline.Dispatcher
	Client     *stream.Client
	Selector   *routing.Selector
	Viewers    *ws.Hub

	evaluator      *pipeline.AlertEvaluator
	eventPublisher *pipeline.EventPublisher
	stateWriter    *pipeline.StateWriter
	historyWriter  *pipeline.HistoryWriter
	server         *http.Server

	redis  *store.RedisStore
	db     *store.TimescaleStore
	rabbit *rabbitmq.TransitionPublisher
}

// InitialGeofences returns the set to start with: the definitions file if
// one is configured, otherwise the seeded demo scenario when enabled.
func InitialGeofences(cfg *config.Config) ([]*domain.Geofence, error) {
	switch {
	case cfg.GeofenceFile != "":
		return geofence.LoadFile(cfg.GeofenceFile)
	case cfg.DemoGeofences:
		return geofence.DefaultScenario(cfg.DemoSeed).Generate(), nil
	default:
		return nil, nil
	}
}

// New connects the optional backends and wires every component. Backends
// that are configured but unreachable fail startup.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg, clock: clock.Real()}

	if err := a.connectBackends(ctx); err != nil {
		a.Close()
		return nil, err
	}

	fences, err := InitialGeofences(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load geofences: %w", err)
	}

	a.Store = fleetstate.NewStore(cfg.AlertCap)
	a.Animator = animation.NewEngine(cfg.ReportingInterval, cfg.JitterMeters)
	a.Geofences = geofence.NewEngine(cfg.GridCellDeg)
	a.Dispatcher = pipeline.NewDispatcher(cfg.HistoryChannelSize, cfg.StateChannelSize, cfg.RuleChannelSize, cfg.EventChannelSize)
	a.Viewers = ws.NewHub()

	a.Frames = pipeline.NewFrameLoop(a.clock, cfg.FrameInterval, a.Animator, a.Geofences, a.Store, a.Dispatcher, a.Viewers)
	a.Frames.LoadGeofences(fences)

	a.Client = stream.NewClient(stream.Options{
		URL:                  cfg.StreamURL,
		ReconnectBase:        cfg.ReconnectBase,
		ReconnectCap:         cfg.ReconnectCap,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
		FlushInterval:        cfg.FlushInterval,
		MonitorInterval:      cfg.MonitorInterval,
		SlowThreshold:        cfg.SlowThreshold,
		StaleThreshold:       cfg.StaleThreshold,
		AlertPruneInterval:   cfg.AlertPruneInterval,
		AlertPruneAge:        cfg.AlertPruneAge,
	}, stream.WebsocketDialer{HandshakeTimeout: 10 * time.Second}, a.clock, a.Store, a.Animator, a.Dispatcher)

	a.wirePipeline()

	var fetcher routing.Fetcher
	if cfg.RouteServiceURL != "" {
		fetcher = routing.NewHTTPFetcher(cfg.RouteServiceURL)
	}
	a.Selector = routing.NewSelector(fetcher, a.Store)

	var lookup auth.KeyLookup
	if a.redis != nil {
		lookup = a.redis
	}
	authenticator := auth.NewAuthenticator(cfg.ValidAPIKeys, time.Duration(cfg.AuthCacheTTLSeconds)*time.Second, lookup, a.clock)

	a.server = &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: transporthttp.NewRouter(transporthttp.Deps{
			Store:     a.Store,
			Geofences: a.Frames,
			Stream:    a.Client,
			Selector:  a.Selector,
			Auth:      authenticator,
			Viewers:   a.Viewers,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *App) connectBackends(ctx context.Context) error {
	cfg := a.cfg

	if cfg.RedisEnabled() {
		r, err := store.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		a.redis = r
		log.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
	}

	if cfg.DBEnabled() {
		db, err := store.NewTimescaleStore(ctx, cfg)
		if err != nil {
			return err
		}
		a.db = db
		log.Info().Str("host", cfg.DBHost).Msg("Connected to TimescaleDB")
	}

	if cfg.RabbitMQEnabled() {
		p, err := rabbitmq.NewTransitionPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			return err
		}
		a.rabbit = p
		log.Info().Str("exchange", cfg.RabbitMQExchange).Msg("Connected to RabbitMQ")
	}
	return nil
}

func (a *App) wirePipeline() {
	var (
		dedup      pipeline.Deduper = pipeline.NewMemoryDeduper(a.clock)
		alertPub   pipeline.AlertPublisher
		publishers []pipeline.TransitionPublisher
	)
	if a.redis != nil {
		dedup = a.redis
		alertPub = a.redis
		publishers = append(publishers, a.redis)
		a.stateWriter = pipeline.NewStateWriter(a.Dispatcher.StateChan, a.redis, a.clock)
	}
	if a.rabbit != nil {
		publishers = append(publishers, a.rabbit)
	}
	if a.db != nil {
		a.historyWriter = pipeline.NewHistoryWriter(a.Dispatcher.HistoryChan, a.db, a.clock,
			a.cfg.HistoryBatchSize, a.cfg.HistoryFlushInterval)
	}

	a.evaluator = pipeline.NewAlertEvaluator(a.Dispatcher.RuleChan, domain.DefaultAlertRules(a.cfg.SpeedLimitKmh),
		dedup, a.Store, a.Dispatcher, alertPub, a.clock)
	a.eventPublisher = pipeline.NewEventPublisher(a.Dispatcher.EventChan, publishers...)
}

// Run starts every component and blocks until ctx is cancelled or the HTTP
// server fails, then shuts down in order.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg conc.WaitGroup
	wg.Go(func() { a.Client.Run(ctx) })
	wg.Go(func() { a.Frames.Run(ctx) })
	wg.Go(func() { a.evaluator.Run(ctx) })
	wg.Go(func() { a.eventPublisher.Run(ctx) })

	if a.stateWriter != nil {
		wg.Go(func() { a.stateWriter.Run(ctx) })
	} else {
		wg.Go(func() { drain(ctx, a.Dispatcher.StateChan) })
	}
	if a.historyWriter != nil {
		wg.Go(func() { a.historyWriter.Run(ctx) })
	} else {
		wg.Go(func() { drain(ctx, a.Dispatcher.HistoryChan) })
	}

	serveErr := make(chan error, 1)
	wg.Go(func() {
		log.Info().Str("addr", a.server.Addr).Msg("HTTP server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
			cancel()
		}
	})

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}
	a.Viewers.Close()
	a.Selector.Close()
	wg.Wait()

	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

// Close releases backend connections.
func (a *App) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.rabbit != nil {
		a.rabbit.Close()
	}
}

// drain discards items for a sink that is not configured.
func drain[T any](ctx context.Context, ch <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
		}
	}
}
