package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"riskgate/internal/eventbus"
	"riskgate/internal/models"
	"riskgate/internal/repository"
	"riskgate/pkg/utils"
)

// VolatilitySource - источник оценки волатильности (доля, не проценты)
type VolatilitySource interface {
	Estimate(instrument string) (float64, bool)
}

// Deps - зависимости движка. Все поля необязательны.
type Deps struct {
	Volatility VolatilitySource
	// Publisher не должен блокироваться: публикация идёт под мьютексом.
	// Сетевые шины оборачиваются в eventbus.AsyncPublisher.
	Publisher eventbus.Publisher
	// Store пишется под мьютексом, поэтому ожидается repository.AsyncStore
	Store    repository.StateStore
	Logger   *zap.Logger
	Clock    func() time.Time
	Location *time.Location
}

// Engine - pre-trade контроль риска и учёт экспозиции/PnL.
//
// Один мьютекс покрывает все проверки и изменения: два ордера не могут
// пройти проверку лимитов по одному и тому же устаревшему состоянию.
// Ошибки шины и хранилища логируются и не откатывают изменения.
type Engine struct {
	mu sync.Mutex

	limits  Limits
	allowed map[string]struct{}
	ledger  *ledger

	vol    VolatilitySource
	bus    eventbus.Publisher
	store  repository.StateStore
	logger *zap.Logger
	now    func() time.Time
	loc    *time.Location
}

// NewEngine создаёт движок. Торговый день определяется по deps.Location
// (по умолчанию UTC) на момент создания.
func NewEngine(limits Limits, deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Publisher == nil {
		deps.Publisher = eventbus.Nop
	}

	return &Engine{
		limits:  limits,
		allowed: allowSet(limits.AllowedMarkets),
		ledger:  newLedger(utils.TradeDate(deps.Clock(), deps.Location), limits.MaxOrdersPerMinute),
		vol:     deps.Volatility,
		bus:     deps.Publisher,
		store:   deps.Store,
		logger:  deps.Logger.Named("risk"),
		now:     deps.Clock,
		loc:     deps.Location,
	}
}

// Limits возвращает действующие лимиты
func (e *Engine) Limits() Limits {
	return e.limits
}

// ============================================================
// Pre-trade проверка
// ============================================================

// PreTradeCheck проверяет заявку без регистрации.
// referencePrice == 0 означает, что опорной цены нет: ценовые полосы пропускаются.
func (e *Engine) PreTradeCheck(intent models.OrderIntent, referencePrice float64) Decision {
	if err := intent.Validate(); err != nil {
		d := reject(RuleInvalid, "%v", err)
		observeDecision(d)
		return d
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.checkLocked(intent, referencePrice)
}

// Allowed - булева форма PreTradeCheck
func (e *Engine) Allowed(intent models.OrderIntent, referencePrice float64) bool {
	return e.PreTradeCheck(intent, referencePrice).Approved
}

// checkLocked вычисляет правила в фиксированном порядке до первого отказа
// ВАЖНО: вызывается под lock'ом
func (e *Engine) checkLocked(intent models.OrderIntent, ref float64) Decision {
	start := time.Now()
	now := e.now()

	e.maybeResetLocked(now)

	d := e.evaluateLocked(intent, ref, now)

	CheckLatency.Observe(float64(time.Since(start).Microseconds()) / 1000)
	observeDecision(d)
	if !d.Approved {
		e.logger.Info("order rejected",
			utils.Instrument(intent.Instrument),
			utils.Side(string(intent.Side)),
			utils.Size(intent.Size),
			utils.Price(intent.LimitPrice),
			utils.Rule(string(d.Rule)),
			zap.String("reason", d.Reason),
		)
	}
	return d
}

func (e *Engine) evaluateLocked(intent models.OrderIntent, ref float64, now time.Time) Decision {
	l := e.ledger
	lim := e.limits

	if l.killSwitch {
		return reject(RuleKillSwitch, "kill switch engaged: %s", l.killReason)
	}

	if e.allowed != nil {
		if _, ok := e.allowed[intent.Instrument]; !ok {
			return reject(RuleAllowList, "instrument %s is not allowed", intent.Instrument)
		}
	}

	notional := intent.Notional()
	if lim.MaxOrderNotional > 0 && notional > lim.MaxOrderNotional {
		return reject(RuleNotional, "notional %.4f exceeds max %.4f", notional, lim.MaxOrderNotional)
	}

	if lim.MaxOrdersPerMinute > 0 && !l.rate.Allow(now) {
		return reject(RuleRateLimit, "%d orders in the last minute, max %d", l.rate.Count(now), lim.MaxOrdersPerMinute)
	}

	if lim.MaxOpenOrders > 0 && len(l.openOrders) >= lim.MaxOpenOrders {
		return reject(RuleOpenOrders, "%d open orders, max %d", len(l.openOrders), lim.MaxOpenOrders)
	}

	if ref <= 0 || math.IsNaN(ref) || math.IsInf(ref, 0) {
		return approve()
	}

	deviation := math.Abs(intent.LimitPrice - ref)

	if lim.PriceBandPct > 0 {
		band := ref * lim.PriceBandPct / 100
		if intent.LimitPrice < ref-band || intent.LimitPrice > ref+band {
			return reject(RulePriceBand, "limit %.6f outside %.6f ± %.6f", intent.LimitPrice, ref, band)
		}
	}

	if lim.VolatilityMultiplier > 0 && e.vol != nil {
		if vol, ok := e.vol.Estimate(intent.Instrument); ok && vol > 0 {
			band := lim.VolatilityMultiplier * vol * ref
			if deviation > band {
				return reject(RuleVolatilityBand, "deviation %.6f exceeds volatility band %.6f", deviation, band)
			}
		}
	}

	if lim.SlippagePct > 0 {
		maxDev := ref * lim.SlippagePct / 100
		if deviation > maxDev {
			return reject(RuleSlippage, "deviation %.6f exceeds slippage cap %.6f", deviation, maxDev)
		}
	}

	return approve()
}

// ============================================================
// Изменения состояния
// ============================================================

// RegisterOrder регистрирует ордер без проверки правил.
// Пустой id заменяется новым uuid. Повтор id (открытого или урегулированного
// сегодня) возвращает ErrDuplicateOrder без изменений: повторная отправка
// с тем же токеном не удваивает экспозицию.
func (e *Engine) RegisterOrder(id string, intent models.OrderIntent) (models.PendingOrder, error) {
	if err := intent.Validate(); err != nil {
		return models.PendingOrder{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.maybeResetLocked(e.now())
	return e.registerLocked(id, intent)
}

// Admit проверяет и регистрирует заявку в одной критической секции.
// При отказе возвращает *RejectionError с решением.
func (e *Engine) Admit(id string, intent models.OrderIntent, referencePrice float64) (models.PendingOrder, Decision, error) {
	if err := intent.Validate(); err != nil {
		d := reject(RuleInvalid, "%v", err)
		observeDecision(d)
		return models.PendingOrder{}, d, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if id != "" && e.ledger.known(id) {
		return models.PendingOrder{}, Decision{}, fmt.Errorf("%w: %s", ErrDuplicateOrder, id)
	}

	d := e.checkLocked(intent, referencePrice)
	if !d.Approved {
		return models.PendingOrder{}, d, &RejectionError{Decision: d}
	}

	order, err := e.registerLocked(id, intent)
	return order, d, err
}

// ВАЖНО: вызывается под lock'ом
func (e *Engine) registerLocked(id string, intent models.OrderIntent) (models.PendingOrder, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if e.ledger.known(id) {
		return models.PendingOrder{}, fmt.Errorf("%w: %s", ErrDuplicateOrder, id)
	}

	order := models.PendingOrder{
		ID:        id,
		Intent:    intent,
		Notional:  intent.Notional(),
		CreatedAt: e.now(),
	}
	e.ledger.register(order)

	e.logger.Debug("order registered",
		utils.OrderID(id),
		utils.Instrument(intent.Instrument),
		utils.Notional(order.Notional),
	)

	e.publishExposureLocked(intent.Instrument)
	e.persist("save_order", func(ctx context.Context, s repository.StateStore) error {
		if err := s.SaveOrder(ctx, order); err != nil {
			return err
		}
		return s.UpdateExposure(ctx, intent.Instrument, e.ledger.exposures[intent.Instrument])
	})

	return order, nil
}

// SettleOrder урегулирует открытый ордер: освобождает его экспозицию,
// меняет позицию на ±size, списывает |size·fillPrice| с дневного PnL
// и пересчитывает kill switch. Неизвестный id - ErrOrderNotFound без изменений.
//
// Частичное исполнение освобождает всю экспозицию ордера.
func (e *Engine) SettleOrder(id string, fillPrice, size float64) error {
	if fillPrice < 0 || size < 0 || math.IsNaN(fillPrice) || math.IsNaN(size) ||
		math.IsInf(fillPrice, 0) || math.IsInf(size, 0) {
		return fmt.Errorf("%w: price %v size %v", ErrInvalidFill, fillPrice, size)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.maybeResetLocked(e.now())

	order, ok := e.ledger.openOrders[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}

	e.ledger.settle(order, fillPrice, size)
	instrument := order.Intent.Instrument

	e.logger.Info("order settled",
		utils.OrderID(id),
		utils.Instrument(instrument),
		utils.Price(fillPrice),
		utils.Size(size),
		utils.PNL(e.ledger.dailyPnL),
	)

	tripped := e.ledger.evaluateKillSwitch(e.limits.DailyMaxLoss)
	if tripped {
		e.onKillSwitchLocked("loss")
	}

	e.publishLocked(eventbus.PnLUpdate{DailyPnL: e.ledger.dailyPnL, KillSwitch: e.ledger.killSwitch})
	e.publishExposureLocked(instrument)

	pos := e.ledger.position(instrument)
	exposure := e.ledger.exposures[instrument]
	pnl := e.ledger.dailyPnL
	date := e.ledger.tradeDate
	e.persist("settle_order", func(ctx context.Context, s repository.StateStore) error {
		if err := s.SettleOrder(ctx, id, fillPrice, size); err != nil {
			return err
		}
		if err := s.UpdateExposure(ctx, instrument, exposure); err != nil {
			return err
		}
		if size > 0 {
			if err := s.UpdatePosition(ctx, pos); err != nil {
				return err
			}
		}
		return s.UpdateDailyPnL(ctx, date, pnl)
	})

	return nil
}

// MarkToMarket добавляет position·price к дневному PnL и пересчитывает
// kill switch. Открытые ордера не меняются. Без позиции - no-op.
func (e *Engine) MarkToMarket(instrument string, price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.maybeResetLocked(e.now())

	pos, ok := e.ledger.positions[instrument]
	if !ok || pos.Quantity == 0 {
		return
	}

	e.ledger.dailyPnL += pos.Quantity * price
	if e.ledger.evaluateKillSwitch(e.limits.DailyMaxLoss) {
		e.onKillSwitchLocked("loss")
	}

	e.publishLocked(eventbus.PnLUpdate{DailyPnL: e.ledger.dailyPnL, KillSwitch: e.ledger.killSwitch})

	pnl := e.ledger.dailyPnL
	date := e.ledger.tradeDate
	e.persist("update_daily_pnl", func(ctx context.Context, s repository.StateStore) error {
		return s.UpdateDailyPnL(ctx, date, pnl)
	})
}

// EngageKillSwitch вручную останавливает приём ордеров до сброса дня
func (e *Engine) EngageKillSwitch(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ledger.killSwitch {
		return
	}
	if reason == "" {
		reason = "manual"
	}
	e.ledger.killSwitch = true
	e.ledger.killReason = reason
	e.onKillSwitchLocked("manual")
	e.publishLocked(eventbus.PnLUpdate{DailyPnL: e.ledger.dailyPnL, KillSwitch: true})
}

// ВАЖНО: вызывается под lock'ом
func (e *Engine) onKillSwitchLocked(source string) {
	KillSwitchTrips.WithLabelValues(source).Inc()
	e.logger.Error("kill switch engaged",
		zap.String("source", source),
		zap.String("reason", e.ledger.killReason),
		utils.PNL(e.ledger.dailyPnL),
		zap.Float64("daily_max_loss", e.limits.DailyMaxLoss),
	)
}

// ============================================================
// Ежедневный сброс
// ============================================================

// ResetDaily сбрасывает дневное состояние вручную: PnL, открытые ордера,
// экспозиции, позиции, историю частоты и kill switch.
// Состояние волатильности не трогается.
func (e *Engine) ResetDaily() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.resetLocked(utils.TradeDate(e.now(), e.loc), "manual")
}

// maybeResetLocked сбрасывает состояние при смене торгового дня
// ВАЖНО: вызывается под lock'ом
func (e *Engine) maybeResetLocked(now time.Time) {
	date := utils.TradeDate(now, e.loc)
	if date == e.ledger.tradeDate {
		return
	}
	e.resetLocked(date, "schedule")
}

// ВАЖНО: вызывается под lock'ом
func (e *Engine) resetLocked(date, source string) {
	prev := e.ledger.tradeDate
	dropped := len(e.ledger.openOrders)
	e.ledger.reset(date)
	DailyResets.WithLabelValues(source).Inc()

	e.logger.Info("daily risk state reset",
		zap.String("source", source),
		zap.String("previous_date", prev),
		zap.String("trade_date", date),
		zap.Int("dropped_open_orders", dropped),
	)

	e.publishLocked(eventbus.PnLUpdate{DailyPnL: 0, KillSwitch: false})
	e.publishLocked(eventbus.ExposureUpdate{Exposures: map[string]float64{}})
	e.persist("reset_daily", func(ctx context.Context, s repository.StateStore) error {
		return s.ResetDaily(ctx, date)
	})
}

// ============================================================
// Восстановление
// ============================================================

// Restore загружает экспозиции, позиции и PnL текущего дня из хранилища.
// Вызывается один раз при старте до приёма ордеров.
// Если записи PnL за текущий день нет, хранилище осталось от прошлого
// дня: оно сбрасывается, экспозиции и позиции не загружаются.
func (e *Engine) Restore(ctx context.Context, store repository.StateStore) error {
	if store == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	date := e.ledger.tradeDate
	pnl, found, err := store.GetDailyPnL(ctx, date)
	if err != nil {
		return fmt.Errorf("restore daily pnl: %w", err)
	}
	if !found {
		if err := store.ResetDaily(ctx, date); err != nil {
			return fmt.Errorf("restore reset daily: %w", err)
		}
		e.logger.Info("stored risk state is stale, reset",
			zap.String("trade_date", date),
		)
		return nil
	}

	exposures, err := store.GetExposures(ctx)
	if err != nil {
		return fmt.Errorf("restore exposures: %w", err)
	}
	positions, err := store.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}

	for instrument, v := range exposures {
		e.ledger.addExposure(instrument, v)
	}
	for instrument, p := range positions {
		p.Instrument = instrument
		e.ledger.positions[instrument] = p
	}
	e.ledger.dailyPnL = pnl
	if e.ledger.evaluateKillSwitch(e.limits.DailyMaxLoss) {
		e.onKillSwitchLocked("loss")
	}

	e.logger.Info("risk state restored",
		zap.Int("exposures", len(exposures)),
		zap.Int("positions", len(positions)),
		utils.PNL(e.ledger.dailyPnL),
	)
	return nil
}

// ============================================================
// Снимки состояния
// ============================================================

// State - снимок состояния для API и CLI
type State struct {
	TradeDate        string                     `json:"tradeDate"`
	DailyPnL         float64                    `json:"dailyPnl"`
	KillSwitch       bool                       `json:"killSwitch"`
	KillReason       string                     `json:"killReason,omitempty"`
	Exposures        map[string]float64         `json:"exposures"`
	Positions        map[string]models.Position `json:"positions"`
	OpenOrders       []models.PendingOrder      `json:"openOrders"`
	OrdersLastMinute int                        `json:"ordersLastMinute"`
	Limits           Limits                     `json:"limits"`
}

// State возвращает согласованный снимок состояния
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.maybeResetLocked(now)

	l := e.ledger
	return State{
		TradeDate:        l.tradeDate,
		DailyPnL:         l.dailyPnL,
		KillSwitch:       l.killSwitch,
		KillReason:       l.killReason,
		Exposures:        l.exposuresCopy(),
		Positions:        l.positionsCopy(),
		OpenOrders:       l.openOrdersSorted(),
		OrdersLastMinute: l.rate.Count(now),
		Limits:           e.limits,
	}
}

// Exposures возвращает копию экспозиций по инструментам
func (e *Engine) Exposures() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.exposuresCopy()
}

// Positions возвращает копию позиций
func (e *Engine) Positions() map[string]models.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.positionsCopy()
}

// OpenOrders возвращает открытые ордера в порядке регистрации
func (e *Engine) OpenOrders() []models.PendingOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.openOrdersSorted()
}

// OpenOrder возвращает открытый ордер по id
func (e *Engine) OpenOrder(id string) (models.PendingOrder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.ledger.openOrders[id]
	return o, ok
}

// DailyPnL возвращает дневной PnL
func (e *Engine) DailyPnL() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.dailyPnL
}

// KillSwitchEngaged сообщает, остановлен ли приём ордеров
func (e *Engine) KillSwitchEngaged() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.killSwitch
}

// ============================================================
// Публикация и сохранение
// ============================================================

// ВАЖНО: вызывается под lock'ом
func (e *Engine) publishExposureLocked(instrument string) {
	e.publishLocked(eventbus.ExposureUpdate{
		Instrument: instrument,
		Exposure:   e.ledger.exposures[instrument],
		Exposures:  e.ledger.exposuresCopy(),
		OpenOrders: len(e.ledger.openOrders),
	})
}

// publishLocked публикует событие. Ошибка не откатывает изменение.
func (e *Engine) publishLocked(ev eventbus.Event) {
	if err := e.bus.Publish(context.Background(), ev); err != nil {
		e.logger.Warn("event publish failed", utils.Topic(string(ev.Topic())), zap.Error(err))
	}
}

// persist передаёт запись в хранилище. Ошибка логируется и не влияет
// на состояние в памяти.
func (e *Engine) persist(op string, fn func(ctx context.Context, s repository.StateStore) error) {
	if e.store == nil {
		return
	}
	if err := fn(context.Background(), e.store); err != nil {
		e.logger.Warn("state store write failed", zap.String("op", op), zap.Error(err))
	}
}
