package risk

import (
	"math"
	"sort"
	"time"

	"riskgate/internal/models"
	"riskgate/pkg/ratelimit"
)

// ledger - изменяемое состояние риска за торговый день.
// Не синхронизирован: все вызовы идут под мьютексом Engine.
type ledger struct {
	tradeDate  string
	openOrders map[string]models.PendingOrder
	settled    map[string]struct{} // урегулированные сегодня id
	exposures  map[string]float64  // знаковый notional открытых ордеров
	positions  map[string]models.Position
	dailyPnL   float64
	killSwitch bool
	killReason string
	rate       *ratelimit.SlidingWindow
}

func newLedger(tradeDate string, maxPerMinute int) *ledger {
	return &ledger{
		tradeDate:  tradeDate,
		openOrders: make(map[string]models.PendingOrder),
		settled:    make(map[string]struct{}),
		exposures:  make(map[string]float64),
		positions:  make(map[string]models.Position),
		rate:       ratelimit.NewSlidingWindow(time.Minute, maxPerMinute),
	}
}

// reset очищает дневное состояние на новую дату
func (l *ledger) reset(tradeDate string) {
	l.tradeDate = tradeDate
	l.openOrders = make(map[string]models.PendingOrder)
	l.settled = make(map[string]struct{})
	l.exposures = make(map[string]float64)
	l.positions = make(map[string]models.Position)
	l.dailyPnL = 0
	l.killSwitch = false
	l.killReason = ""
	l.rate.Reset()
}

// known сообщает, что id уже использовался сегодня
func (l *ledger) known(id string) bool {
	if _, ok := l.openOrders[id]; ok {
		return true
	}
	_, ok := l.settled[id]
	return ok
}

func (l *ledger) register(order models.PendingOrder) {
	l.openOrders[order.ID] = order
	l.addExposure(order.Intent.Instrument, order.Intent.SignedNotional())
	l.rate.Record(order.CreatedAt)
}

// settle закрывает ордер и возвращает его. Реализованный notional
// списывается с дневного PnL.
func (l *ledger) settle(order models.PendingOrder, fillPrice, size float64) {
	delete(l.openOrders, order.ID)
	l.settled[order.ID] = struct{}{}
	l.addExposure(order.Intent.Instrument, -order.Intent.SignedNotional())

	if size > 0 {
		l.applyFill(order.Intent.Instrument, order.Intent.Side, fillPrice, size)
	}
	l.dailyPnL -= math.Abs(size * fillPrice)
}

func (l *ledger) addExposure(instrument string, delta float64) {
	v := l.exposures[instrument] + delta
	// убираем остаток округления, чтобы закрытая экспозиция была нулём
	if math.Abs(v) < 1e-9 {
		delete(l.exposures, instrument)
		return
	}
	l.exposures[instrument] = v
}

// applyFill меняет позицию на ±size и пересчитывает среднюю цену
func (l *ledger) applyFill(instrument string, side models.Side, price, size float64) {
	pos := l.positions[instrument]
	pos.Instrument = instrument

	delta := side.Sign() * size
	next := pos.Quantity + delta

	switch {
	case math.Abs(next) < 1e-12:
		next = 0
		pos.AveragePrice = 0
	case pos.Quantity == 0 || sameSign(pos.Quantity, delta):
		// наращивание позиции
		pos.AveragePrice = (math.Abs(pos.Quantity)*pos.AveragePrice + size*price) / math.Abs(next)
	case !sameSign(pos.Quantity, next):
		// переворот
		pos.AveragePrice = price
	}
	pos.Quantity = next

	if pos.Quantity == 0 {
		delete(l.positions, instrument)
		return
	}
	l.positions[instrument] = pos
}

func (l *ledger) position(instrument string) models.Position {
	pos, ok := l.positions[instrument]
	if !ok {
		return models.Position{Instrument: instrument}
	}
	return pos
}

// evaluateKillSwitch взводит kill switch при превышении дневного убытка.
// Возвращает true, если переключение произошло сейчас.
func (l *ledger) evaluateKillSwitch(maxLoss float64) bool {
	if l.killSwitch || maxLoss <= 0 {
		return false
	}
	if l.dailyPnL < -maxLoss {
		l.killSwitch = true
		l.killReason = "daily max loss exceeded"
		return true
	}
	return false
}

func (l *ledger) exposuresCopy() map[string]float64 {
	out := make(map[string]float64, len(l.exposures))
	for k, v := range l.exposures {
		out[k] = v
	}
	return out
}

func (l *ledger) positionsCopy() map[string]models.Position {
	out := make(map[string]models.Position, len(l.positions))
	for k, v := range l.positions {
		out[k] = v
	}
	return out
}

func (l *ledger) openOrdersSorted() []models.PendingOrder {
	out := make([]models.PendingOrder, 0, len(l.openOrders))
	for _, o := range l.openOrders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
