package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"riskgate/internal/eventbus"
	"riskgate/pkg/utils"
)

// MetricsService переводит события exposure_update и pnl_update в
// Prometheus gauges. Глобального состояния движка не читает: работает
// одинаково с любой реализацией шины.
type MetricsService struct {
	bus    eventbus.Subscriber
	logger *zap.Logger
}

// NewMetricsService создаёт сервис метрик
func NewMetricsService(bus eventbus.Subscriber, logger *zap.Logger) *MetricsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricsService{bus: bus, logger: logger.Named("metrics-service")}
}

// Run обновляет gauges до отмены ctx или закрытия шины
func (s *MetricsService) Run(ctx context.Context) error {
	topics := []eventbus.Topic{eventbus.TopicExposureUpdate, eventbus.TopicPnLUpdate}

	var wg sync.WaitGroup
	for _, topic := range topics {
		ch, err := s.bus.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("metrics service: subscribe %s: %w", topic, err)
		}
		wg.Add(1)
		go func(ch <-chan eventbus.Message) {
			defer wg.Done()
			for msg := range ch {
				if err := s.Apply(msg); err != nil {
					s.logger.Debug("skip malformed event", utils.Topic(string(msg.Topic)), zap.Error(err))
				}
			}
		}(ch)
	}
	wg.Wait()
	return nil
}

// Apply обновляет gauges по одному сообщению
func (s *MetricsService) Apply(msg eventbus.Message) error {
	ev, err := msg.Event()
	if err != nil {
		return err
	}

	switch e := ev.(type) {
	case eventbus.ExposureUpdate:
		// Exposures - полный снимок: инструменты без экспозиции удаляются
		Exposure.Reset()
		for inst, v := range e.Exposures {
			Exposure.WithLabelValues(inst).Set(v)
		}
		if len(e.Exposures) == 0 && e.Instrument != "" {
			Exposure.WithLabelValues(e.Instrument).Set(e.Exposure)
		}
		OpenOrders.Set(float64(e.OpenOrders))
	case eventbus.PnLUpdate:
		DailyPnL.Set(e.DailyPnL)
		if e.KillSwitch {
			KillSwitch.Set(1)
		} else {
			KillSwitch.Set(0)
		}
	}
	return nil
}
