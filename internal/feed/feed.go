// Package feed - источники рыночных цен: live websocket, симуляция и CSV replay.
// Каждый источник передаёт тики в Sink (обычно market.Ingestor.Ingest).
package feed

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"riskgate/internal/config"
	"riskgate/internal/models"
)

// Sink принимает нормализованный тик. Ошибка Sink не останавливает источник.
type Sink func(ctx context.Context, tick models.PriceTick) error

// PriceFeed - источник тиков. Run блокируется до отмены ctx или конца данных.
type PriceFeed interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}

// Виды источников
const (
	KindSim  = "sim"
	KindWS   = "ws"
	KindCSV  = "csv"
	KindNone = "none"
)

// New создаёт источник по PRICE_FEED. Для none возвращает nil, nil.
func New(cfg config.FeedConfig, instruments []string, logger *zap.Logger) (PriceFeed, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(cfg.Kind) {
	case "", KindNone:
		return nil, nil
	case KindSim:
		return NewSimFeed(SimConfig{
			Instruments: instruments,
			StartPrices: cfg.StartPrices,
			Interval:    cfg.SimInterval,
			Volatility:  cfg.SimVolatility,
			Seed:        cfg.SimSeed,
		}, logger), nil
	case KindWS:
		if cfg.URL == "" {
			return nil, fmt.Errorf("PRICE_FEED_URL is required for ws feed")
		}
		wsCfg := DefaultWSConfig()
		wsCfg.URL = cfg.URL
		wsCfg.Products = instruments
		return NewWSFeed(wsCfg, logger), nil
	case KindCSV:
		if cfg.File == "" {
			return nil, fmt.Errorf("PRICE_FEED_FILE is required for csv feed")
		}
		return NewCSVFeed(cfg.File, cfg.SimInterval, logger), nil
	}
	return nil, fmt.Errorf("unknown PRICE_FEED %q", cfg.Kind)
}
