package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"riskgate/internal/api"
	"riskgate/internal/config"
	"riskgate/internal/eventbus"
	"riskgate/internal/eventlog"
	"riskgate/internal/execution"
	"riskgate/internal/feed"
	"riskgate/internal/market"
	"riskgate/internal/repository"
	"riskgate/internal/risk"
	"riskgate/internal/service"
	"riskgate/internal/strategy"
	"riskgate/internal/volatility"
	"riskgate/internal/websocket"
	"riskgate/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.InitLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: cfg.Logging.Development,
		Output:      cfg.Logging.OutputPath,
	})
	defer logger.Sync()
	utils.SetGlobalLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger.Logger); err != nil {
		logger.Error("riskgate stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("riskgate exited")
}

// app - собранные компоненты процесса
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	bus       eventbus.Bus
	publisher eventbus.Publisher
	outbox    *eventbus.AsyncPublisher
	store     *repository.AsyncStore
	events    *eventlog.Writer

	estimator *volatility.Estimator
	engine    *risk.Engine
	cache     *market.PriceCache
	ingestor  *market.Ingestor
	pipeline  *execution.Pipeline
	priceFeed feed.PriceFeed
	strats    []strategy.Strategy

	metrics *service.MetricsService
	alerts  *service.AlertService
	hub     *websocket.Hub
	server  *http.Server
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		err = multierr.Append(err, a.shutdown())
	}()

	if err := a.build(ctx); err != nil {
		return err
	}
	return a.serve(ctx)
}

// build создаёт компоненты в порядке зависимостей
func (a *app) build(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	bus, err := eventbus.New(cfg.EventBus, logger)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	a.bus = bus
	a.publisher = bus
	if eventbus.IsNetwork(cfg.EventBus.Backend) {
		// сетевая публикация не должна идти под мьютексом движка
		a.outbox = eventbus.NewAsyncPublisher(bus, cfg.EventBus.OutboxSize, logger)
		a.publisher = a.outbox
	}

	store, err := repository.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}
	var stateStore repository.StateStore
	if store != nil {
		a.store = repository.NewAsyncStore(store, cfg.Store.QueueSize, logger)
		stateStore = a.store
	}

	method, err := volatility.ParseMethod(cfg.Volatility.Method)
	if err != nil {
		return err
	}
	a.estimator = volatility.NewEstimator(volatility.Config{
		Method:    method,
		Window:    cfg.Volatility.Window,
		ATRWindow: cfg.Volatility.ATRWindow,
		Alpha:     cfg.Volatility.Alpha,
	})

	loc, err := time.LoadLocation(cfg.Risk.Timezone)
	if err != nil {
		return fmt.Errorf("risk timezone: %w", err)
	}
	a.engine = risk.NewEngine(risk.LimitsFromConfig(cfg.Risk, cfg.Volatility), risk.Deps{
		Volatility: a.estimator,
		Publisher:  a.publisher,
		Store:      stateStore,
		Logger:     logger,
		Location:   loc,
	})
	if store != nil {
		// чтение идёт напрямую, минуя очередь записи
		if err := a.engine.Restore(ctx, store); err != nil {
			return fmt.Errorf("restore risk state: %w", err)
		}
	}

	a.cache = market.NewPriceCache()
	a.ingestor = market.NewIngestor(a.cache, a.estimator, a.publisher, logger)
	a.ingestor.SetMarker(a.engine)

	transport, err := execution.NewTransport(cfg.Execution, cfg.Security, logger)
	if err != nil {
		return fmt.Errorf("order transport: %w", err)
	}
	a.pipeline = execution.NewPipeline(execution.ConfigFromEnv(cfg.Execution), a.engine, a.cache, transport, a.publisher, logger)

	a.priceFeed, err = feed.New(cfg.Feed, cfg.Risk.AllowedMarkets, logger)
	if err != nil {
		return fmt.Errorf("price feed: %w", err)
	}

	specs, err := strategy.Resolve(cfg.Strategy)
	if err != nil {
		return fmt.Errorf("strategies: %w", err)
	}
	registry := strategy.DefaultRegistry(strategy.DefaultParams(cfg.Strategy))
	a.strats, err = registry.BuildAll(specs, strategy.Deps{Bus: bus, Submitter: a.pipeline, Logger: logger})
	if err != nil {
		return fmt.Errorf("strategies: %w", err)
	}

	if path := cfg.EventBus.EventLogPath; path != "" {
		if a.events, err = eventlog.Open(path, logger); err != nil {
			return fmt.Errorf("event log: %w", err)
		}
	}

	a.hub = websocket.NewHub(cfg.Server.AllowedOrigins, logger)
	a.metrics = service.NewMetricsService(bus, logger)
	a.alerts = service.NewAlertService(cfg.Alert, bus, logger)
	a.alerts.SetWebSocketHub(a.hub)

	router := api.SetupRoutes(&api.Dependencies{
		Risk:           a.engine,
		Orders:         a.pipeline,
		Fills:          a.pipeline,
		Ticks:          a.ingestor,
		Quotes:         a.cache,
		Volatility:     a.estimator,
		Notifications:  a.alerts,
		Stream:         a.hub,
		TokenHash:      cfg.Security.APITokenHash,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})
	a.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return nil
}

// serve запускает фоновые компоненты и ждёт сигнала или падения HTTP сервера
func (a *app) serve(parent context.Context) error {
	logger := a.logger
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	var wg sync.WaitGroup
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("component stopped", utils.Component(name), zap.Error(err))
			}
		}()
	}

	// конвейер живёт дольше ctx: при остановке он дренирует очередь в shutdown
	spawn("pipeline", func() error { return a.pipeline.Run(context.Background()) })
	spawn("fills", func() error { return a.pipeline.ConsumeFills(ctx, a.bus) })
	spawn("metrics", func() error { return a.metrics.Run(ctx) })
	spawn("alerts", func() error { return a.alerts.Run(ctx) })
	go a.hub.Run()
	spawn("hub-relay", func() error { return a.hub.Relay(ctx, a.bus) })
	if a.events != nil {
		spawn("eventlog", func() error { return a.events.Run(ctx, a.bus) })
	}
	if len(a.strats) > 0 {
		spawn("strategies", func() error { return strategy.RunAll(ctx, a.strats, logger) })
	}
	if a.priceFeed != nil {
		spawn("feed", func() error { return a.priceFeed.Run(ctx, a.ingestor.Sink()) })
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	logger.Info("riskgate started",
		zap.String("bus", a.cfg.EventBus.Backend),
		zap.String("store", a.cfg.Store.Kind),
		zap.Bool("paper", a.cfg.Execution.PaperTrading),
		zap.Strings("markets", a.cfg.Risk.AllowedMarkets),
		zap.Int("strategies", len(a.strats)),
	)

	var err error
	select {
	case <-parent.Done():
		logger.Info("shutdown signal received")
	case err = <-serverErr:
		if err != nil {
			err = fmt.Errorf("http server: %w", err)
		}
	}

	// источники и стратегии останавливаются первыми, затем дренируется конвейер
	cancel()
	shutdownErr := a.stopServing()
	wg.Wait()
	return multierr.Append(err, shutdownErr)
}

func (a *app) grace() time.Duration {
	if a.cfg.Server.ShutdownGrace > 0 {
		return a.cfg.Server.ShutdownGrace
	}
	return 10 * time.Second
}

// stopServing закрывает HTTP и дренирует конвейер, пока работают шина и хранилище
func (a *app) stopServing() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.grace())
	defer cancel()

	var err error
	err = multierr.Append(err, a.server.Shutdown(ctx))
	err = multierr.Append(err, a.pipeline.Shutdown(ctx))
	a.hub.Stop()
	return err
}

// shutdown закрывает журнал, outbox, шину и хранилище. Вызывается и при ошибке сборки.
func (a *app) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.grace())
	defer cancel()

	var err error
	if a.events != nil {
		err = multierr.Append(err, a.events.Close())
	}
	if a.outbox != nil {
		err = multierr.Append(err, a.outbox.Close(ctx))
	}
	if a.bus != nil {
		err = multierr.Append(err, a.bus.Close())
	}
	if a.store != nil {
		err = multierr.Append(err, a.store.Shutdown(ctx))
	}
	return err
}
