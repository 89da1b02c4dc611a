package feed

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

const (
	defaultSimInterval   = time.Second
	defaultSimVolatility = 0.001
	defaultStartPrice    = 100.0
)

// SimConfig - параметры случайного блуждания
type SimConfig struct {
	Instruments []string
	StartPrices map[string]float64
	Interval    time.Duration
	Volatility  float64 // стандартное отклонение доходности за шаг
	Seed        int64
	Steps       int // 0 = до отмены ctx
}

// SimFeed генерирует геометрическое случайное блуждание для paper trading.
// Один и тот же Seed даёт одну и ту же последовательность.
type SimFeed struct {
	cfg    SimConfig
	logger *zap.Logger
}

// NewSimFeed создаёт симулятор
func NewSimFeed(cfg SimConfig, logger *zap.Logger) *SimFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSimInterval
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = defaultSimVolatility
	}
	return &SimFeed{cfg: cfg, logger: logger.Named("feed-sim")}
}

func (f *SimFeed) Name() string { return KindSim }

// Run публикует по тику на инструмент каждые Interval
func (f *SimFeed) Run(ctx context.Context, sink Sink) error {
	instruments := append([]string(nil), f.cfg.Instruments...)
	sort.Strings(instruments)

	rng := rand.New(rand.NewSource(f.cfg.Seed))
	prices := make(map[string]float64, len(instruments))
	for _, inst := range instruments {
		p := f.cfg.StartPrices[inst]
		if p <= 0 {
			p = defaultStartPrice
		}
		prices[inst] = p
	}

	f.logger.Info("simulated feed started",
		zap.Strings("instruments", instruments),
		zap.Duration("interval", f.cfg.Interval),
		zap.Float64("volatility", f.cfg.Volatility),
	)

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for step := 0; f.cfg.Steps <= 0 || step < f.cfg.Steps; step++ {
		now := time.Now()
		for _, inst := range instruments {
			r := rng.NormFloat64() * f.cfg.Volatility
			prices[inst] *= math.Exp(r)

			tick := models.PriceTick{Instrument: inst, Price: prices[inst], Timestamp: now}
			if err := sink(ctx, tick); err != nil {
				f.logger.Warn("tick rejected", utils.Instrument(inst), zap.Error(err))
			}
		}

		if f.cfg.Steps > 0 && step == f.cfg.Steps-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}
