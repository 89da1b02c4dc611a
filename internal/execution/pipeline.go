package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"riskgate/internal/config"
	"riskgate/internal/eventbus"
	"riskgate/internal/models"
	"riskgate/internal/risk"
	"riskgate/pkg/retry"
	"riskgate/pkg/utils"
)

// DefaultQueueSize - ёмкость очереди заявок по умолчанию
const DefaultQueueSize = 1000

var (
	ErrQueueFull      = errors.New("execution: queue full")
	ErrPipelineClosed = errors.New("execution: pipeline closed")
	ErrAlreadyRunning = errors.New("execution: pipeline already running")
	ErrNotDrained     = errors.New("execution: consumer stopped before drain")
)

// RiskGate - часть движка риска, нужная конвейеру
type RiskGate interface {
	Admit(id string, intent models.OrderIntent, referencePrice float64) (models.PendingOrder, risk.Decision, error)
	SettleOrder(id string, fillPrice, size float64) error
	OpenOrder(id string) (models.PendingOrder, bool)
}

// PriceSource - последняя известная цена инструмента
type PriceSource interface {
	Price(instrument string) (float64, bool)
}

// Config - параметры конвейера
type Config struct {
	QueueSize      int
	SettleOnSubmit bool
	Retry          retry.Config
}

// ConfigFromEnv переводит ExecutionConfig в Config.
// EXECUTION_MAX_RETRIES - число повторов, поэтому попыток на одну больше.
func ConfigFromEnv(cfg config.ExecutionConfig) Config {
	return Config{
		QueueSize:      cfg.QueueSize,
		SettleOnSubmit: cfg.SettleOnSubmit,
		Retry:          retry.SubmissionConfig(cfg.MaxRetries+1, cfg.RetryDelay, cfg.MaxRetryDelay, cfg.Timeout),
	}
}

// Pipeline - очередь заявок с одним потребителем.
//
// Заявки обрабатываются строго по FIFO: проверка риска и регистрация
// (Admit), публикация order_submitted, отправка в транспорт с повторами
// под одним токеном и урегулирование.
type Pipeline struct {
	cfg       Config
	risk      RiskGate
	prices    PriceSource
	transport OrderTransport
	bus       eventbus.Publisher
	logger    *zap.Logger
	newID     func() string

	queue chan models.OrderIntent

	mu     sync.RWMutex // защищает closed и отправку в queue
	closed bool

	running atomic.Bool
	done    chan struct{}

	// контекст обработки живёт дольше контекста Run, чтобы Shutdown мог дренировать очередь
	workCtx    context.Context
	cancelWork context.CancelFunc
}

// NewPipeline создаёт конвейер. prices и bus могут быть nil.
func NewPipeline(cfg Config, gate RiskGate, prices PriceSource, transport OrderTransport, bus eventbus.Publisher, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = eventbus.Nop
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	workCtx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:        cfg,
		risk:       gate,
		prices:     prices,
		transport:  transport,
		bus:        bus,
		logger:     logger.Named("execution"),
		newID:      uuid.NewString,
		queue:      make(chan models.OrderIntent, cfg.QueueSize),
		done:       make(chan struct{}),
		workCtx:    workCtx,
		cancelWork: cancel,
	}
}

// Submit проверяет заявку и ставит её в очередь не блокируясь
func (p *Pipeline) Submit(intent models.OrderIntent) error {
	if err := intent.Validate(); err != nil {
		IntentsDropped.WithLabelValues("invalid").Inc()
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		IntentsDropped.WithLabelValues("closed").Inc()
		return ErrPipelineClosed
	}

	select {
	case p.queue <- intent:
		QueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		IntentsDropped.WithLabelValues("full").Inc()
		p.logger.Warn("execution queue full, intent dropped",
			utils.Instrument(intent.Instrument),
			zap.Int("capacity", cap(p.queue)),
		)
		return ErrQueueFull
	}
}

// Pending возвращает число заявок в очереди
func (p *Pipeline) Pending() int {
	return len(p.queue)
}

// Run обрабатывает очередь до Shutdown (возвращает nil после дренажа)
// или до отмены ctx (возвращает ctx.Err()).
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(p.done)

	p.logger.Info("execution pipeline started",
		zap.String("transport", p.transport.Name()),
		zap.Int("queue_size", cap(p.queue)),
		zap.Bool("settle_on_submit", p.cfg.SettleOnSubmit),
	)

	for {
		select {
		case intent, ok := <-p.queue:
			if !ok {
				p.logger.Info("execution pipeline drained")
				return nil
			}
			QueueDepth.Set(float64(len(p.queue)))
			p.process(p.workCtx, intent)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown закрывает приём заявок и ждёт, пока Run обработает очередь.
// Если Run ещё не запущен, очередь дождётся его: контекст отправки
// отменяется только по истечении ctx.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	if !p.running.Load() && len(p.queue) == 0 {
		return nil
	}

	select {
	case <-p.done:
		p.cancelWork()
		if n := len(p.queue); n > 0 {
			return fmt.Errorf("execution shutdown: %d intents left: %w", n, ErrNotDrained)
		}
		return nil
	case <-ctx.Done():
		p.cancelWork()
		return fmt.Errorf("execution shutdown: %d intents left: %w", len(p.queue), ctx.Err())
	}
}

// process проводит одну заявку через риск, транспорт и урегулирование
func (p *Pipeline) process(ctx context.Context, intent models.OrderIntent) {
	var ref float64
	if p.prices != nil {
		ref, _ = p.prices.Price(intent.Instrument)
	}

	order, _, err := p.risk.Admit(p.newID(), intent, ref)
	if err != nil {
		if _, ok := risk.AsRejection(err); ok {
			// отказ логирует движок риска
			OrdersProcessed.WithLabelValues("rejected").Inc()
			return
		}
		OrdersProcessed.WithLabelValues("error").Inc()
		p.logger.Error("admit failed", utils.Instrument(intent.Instrument), zap.Error(err))
		return
	}

	log := p.logger.With(utils.OrderID(order.ID), utils.Instrument(intent.Instrument))
	p.publish(ctx, eventbus.OrderSubmitted{OrderFields: orderFields(order, intent.Size, intent.LimitPrice)})

	ack, err := p.send(ctx, order, log)
	if err != nil {
		OrdersProcessed.WithLabelValues("failed").Inc()
		log.Error("order submission failed, releasing exposure",
			zap.Int("attempts", retry.Attempts(err)),
			zap.Error(err),
		)
		if serr := p.risk.SettleOrder(order.ID, 0, 0); serr != nil {
			log.Error("settle after failure", zap.Error(serr))
		}
		return
	}

	switch {
	case ack.Status == AckFilled:
		price := ack.FillPrice
		if price <= 0 {
			price = intent.LimitPrice
		}
		size := ack.FilledSize
		if size <= 0 {
			size = intent.Size
		}
		if err := p.settleFill(ctx, order, price, size); err != nil {
			log.Error("settle fill", zap.Error(err))
			return
		}
		OrdersProcessed.WithLabelValues("filled").Inc()

	case p.cfg.SettleOnSubmit:
		if err := p.risk.SettleOrder(order.ID, 0, 0); err != nil {
			log.Error("settle on submit", zap.Error(err))
			return
		}
		OrdersProcessed.WithLabelValues("accepted").Inc()

	default:
		OrdersProcessed.WithLabelValues("accepted").Inc()
		log.Debug("order accepted, awaiting fill", zap.String("exchange_order_id", ack.ExchangeOrderID))
	}
}

// send вызывает транспорт с повторами. Все попытки несут один ClientOrderID.
func (p *Pipeline) send(ctx context.Context, order models.PendingOrder, log *zap.Logger) (OrderAck, error) {
	req := NewOrderRequest(order)
	name := p.transport.Name()

	cfg := p.cfg.Retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		TransportRetries.WithLabelValues(name).Inc()
		log.Warn("order submission failed, retrying",
			utils.Attempt(attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	start := time.Now()
	ack, err := retry.DoWithResult(ctx, func(ctx context.Context, _ int) (OrderAck, error) {
		return p.transport.CreateOrder(ctx, req)
	}, cfg)
	SubmitLatency.WithLabelValues(name).Observe(float64(time.Since(start).Microseconds()) / 1000)
	return ack, err
}

// HandleFill урегулирует открытый ордер по уведомлению об исполнении
// и публикует order_filled.
func (p *Pipeline) HandleFill(ctx context.Context, fill models.FillNotification) error {
	if err := fill.Validate(); err != nil {
		FillsHandled.WithLabelValues("invalid").Inc()
		return err
	}

	order, ok := p.risk.OpenOrder(fill.OrderID)
	if !ok {
		FillsHandled.WithLabelValues("unknown").Inc()
		return fmt.Errorf("%w: %s", risk.ErrOrderNotFound, fill.OrderID)
	}

	if err := p.settleFill(ctx, order, fill.Price, fill.Size); err != nil {
		FillsHandled.WithLabelValues("error").Inc()
		return err
	}
	FillsHandled.WithLabelValues("settled").Inc()
	return nil
}

func (p *Pipeline) settleFill(ctx context.Context, order models.PendingOrder, price, size float64) error {
	if err := p.risk.SettleOrder(order.ID, price, size); err != nil {
		return err
	}
	p.publish(ctx, eventbus.OrderFilled{OrderFields: orderFields(order, size, price)})
	return nil
}

// ConsumeFills читает топик fill и передаёт уведомления в HandleFill до отмены ctx
func (p *Pipeline) ConsumeFills(ctx context.Context, sub eventbus.Subscriber) error {
	msgs, err := sub.Subscribe(ctx, eventbus.TopicFill)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", eventbus.TopicFill, err)
	}

	for msg := range msgs {
		var fill eventbus.Fill
		if err := msg.Decode(&fill); err != nil {
			p.logger.Warn("malformed fill event", zap.Error(err))
			continue
		}
		if err := p.HandleFill(ctx, fill.ToNotification()); err != nil {
			p.logger.Warn("fill not applied", utils.OrderID(fill.OrderID), zap.Error(err))
		}
	}
	return ctx.Err()
}

func (p *Pipeline) publish(ctx context.Context, ev eventbus.Event) {
	if err := p.bus.Publish(ctx, ev); err != nil {
		p.logger.Warn("publish failed", utils.Topic(string(ev.Topic())), zap.Error(err))
	}
}

func orderFields(order models.PendingOrder, size, price float64) eventbus.OrderFields {
	return eventbus.OrderFields{
		OrderID:    order.ID,
		Instrument: order.Intent.Instrument,
		Side:       order.Intent.Side,
		Size:       size,
		Price:      price,
	}
}
