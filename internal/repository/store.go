package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"riskgate/internal/config"
	"riskgate/internal/models"
)

// Ошибки хранилища
var (
	ErrOrderNotFound = errors.New("order not found")
	ErrStoreClosed   = errors.New("state store closed")
)

// Статусы записей журнала ордеров
const (
	OrderStatusOpen    = "open"
	OrderStatusSettled = "settled"
	OrderStatusExpired = "expired" // открыт на момент сброса дня
)

// StateStore - зеркало состояния риска вне процесса.
//
// Движок риска остаётся источником истины: хранилище пишется
// асинхронно и читается только при старте (Restore) и утилитами.
type StateStore interface {
	SaveOrder(ctx context.Context, order models.PendingOrder) error
	SettleOrder(ctx context.Context, orderID string, fillPrice, size float64) error
	UpdateExposure(ctx context.Context, instrument string, notional float64) error
	UpdatePosition(ctx context.Context, pos models.Position) error
	UpdateDailyPnL(ctx context.Context, tradeDate string, pnl float64) error
	ResetDaily(ctx context.Context, tradeDate string) error

	GetExposures(ctx context.Context) (map[string]float64, error)
	GetPositions(ctx context.Context) (map[string]models.Position, error)
	GetDailyPnL(ctx context.Context, tradeDate string) (float64, bool, error)

	Close() error
}

// OrderRecord - запись журнала ордеров
type OrderRecord struct {
	ID         string      `json:"id"`
	Instrument string      `json:"instrument"`
	Side       models.Side `json:"side"`
	Size       float64     `json:"size"`
	LimitPrice float64     `json:"limitPrice"`
	Notional   float64     `json:"notional"`
	Status     string      `json:"status"`
	FillPrice  float64     `json:"fillPrice"`
	FilledSize float64     `json:"filledSize"`
}

func recordFromPending(o models.PendingOrder) OrderRecord {
	return OrderRecord{
		ID:         o.ID,
		Instrument: o.Intent.Instrument,
		Side:       o.Intent.Side,
		Size:       o.Intent.Size,
		LimitPrice: o.Intent.LimitPrice,
		Notional:   o.Notional,
		Status:     OrderStatusOpen,
	}
}

// Open создаёт хранилище по конфигурации STATE_STORE.
// Для "none" возвращает nil без ошибки.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (StateStore, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", "none":
		return nil, nil
	case "file":
		return OpenFileStore(cfg.Path)
	case "sql":
		store, err := OpenSQLStore(ctx, cfg.URI)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown state store %q", cfg.Kind)
}
