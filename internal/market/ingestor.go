package market

import (
	"context"
	"time"

	"go.uber.org/zap"

	"riskgate/internal/eventbus"
	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

// Recorder - получатель наблюдений цены (оценщик волатильности)
type Recorder interface {
	Record(instrument string, price float64)
}

// Marker - переоценка позиций по рынку (движок риска)
type Marker interface {
	MarkToMarket(instrument string, price float64)
}

// Ingestor - точка входа рыночных данных.
//
// Проверяет тик на границе, обновляет кэш цен и оценщик волатильности,
// публикует ticker в шину. Невалидные тики отбрасываются с ошибкой.
type Ingestor struct {
	cache    *PriceCache
	recorder Recorder
	marker   Marker
	bus      eventbus.Publisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewIngestor создаёт ingestor. recorder, marker и bus могут быть nil.
func NewIngestor(cache *PriceCache, recorder Recorder, bus eventbus.Publisher, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = eventbus.Nop
	}
	return &Ingestor{
		cache:    cache,
		recorder: recorder,
		bus:      bus,
		logger:   logger.Named("market"),
		now:      time.Now,
	}
}

// SetMarker включает переоценку позиций на каждом тике
func (i *Ingestor) SetMarker(m Marker) {
	i.marker = m
}

// Ingest обрабатывает один тик
func (i *Ingestor) Ingest(ctx context.Context, tick models.PriceTick) error {
	if err := tick.Validate(); err != nil {
		TicksRejected.Inc()
		i.logger.Debug("tick rejected", utils.Instrument(tick.Instrument), zap.Error(err))
		return err
	}
	if tick.Timestamp.IsZero() {
		tick.Timestamp = i.now()
	}

	i.cache.Update(tick.Instrument, tick.Price, tick.Timestamp)
	if i.recorder != nil {
		i.recorder.Record(tick.Instrument, tick.Price)
	}
	if i.marker != nil {
		i.marker.MarkToMarket(tick.Instrument, tick.Price)
	}
	TicksIngested.WithLabelValues(tick.Instrument).Inc()

	ev := eventbus.Ticker{ProductID: tick.Instrument, Price: tick.Price, Timestamp: tick.Timestamp}
	if err := i.bus.Publish(ctx, ev); err != nil {
		i.logger.Warn("ticker publish failed", utils.Instrument(tick.Instrument), zap.Error(err))
	}
	return nil
}

// Sink возвращает функцию-приёмник для источников цен
func (i *Ingestor) Sink() func(ctx context.Context, tick models.PriceTick) error {
	return i.Ingest
}
