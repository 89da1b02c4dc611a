// Package execution - конвейер исполнения ордеров: очередь заявок,
// pre-trade проверка риска, отправка в транспорт с повторами и урегулирование.
package execution

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"riskgate/internal/config"
	"riskgate/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AckStatus - статус ордера в ответе транспорта
type AckStatus string

const (
	// AckFilled - ордер исполнен сразу, в ответе есть цена и объём
	AckFilled AckStatus = "filled"
	// AckAccepted - ордер принят, исполнение придёт отдельным уведомлением
	AckAccepted AckStatus = "accepted"
)

// OrderRequest - лимитный ордер для транспорта.
// ClientOrderID совпадает с id ордера в движке риска и не меняется между попытками.
type OrderRequest struct {
	ClientOrderID string      `json:"client_order_id"`
	Instrument    string      `json:"product_id"`
	Side          models.Side `json:"side"`
	Size          float64     `json:"size"`
	LimitPrice    float64     `json:"price"`
	OrderType     string      `json:"order_type"`
	TimeInForce   string      `json:"time_in_force"`
}

// NewOrderRequest строит GTC лимитный ордер из зарегистрированного ордера
func NewOrderRequest(order models.PendingOrder) OrderRequest {
	return OrderRequest{
		ClientOrderID: order.ID,
		Instrument:    order.Intent.Instrument,
		Side:          order.Intent.Side,
		Size:          order.Intent.Size,
		LimitPrice:    order.Intent.LimitPrice,
		OrderType:     "limit",
		TimeInForce:   "gtc",
	}
}

// OrderAck - ответ транспорта на создание ордера
type OrderAck struct {
	ExchangeOrderID string    `json:"id"`
	ClientOrderID   string    `json:"client_order_id"`
	Status          AckStatus `json:"status"`
	FilledSize      float64   `json:"filled_size"`
	FillPrice       float64   `json:"fill_price"`
}

// OrderTransport отправляет ордер на площадку
type OrderTransport interface {
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
}

// TransportError - ошибка площадки или сети
type TransportError struct {
	Transport  string
	StatusCode int // 0 для сетевых ошибок
	Message    string
	Original   error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Transport, e.StatusCode, e.Message)
	}
	if e.Original != nil {
		return fmt.Sprintf("%s: %s: %v", e.Transport, e.Message, e.Original)
	}
	return e.Transport + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для errors.Is() и errors.As()
func (e *TransportError) Unwrap() error {
	return e.Original
}

// NewTransport выбирает транспорт по конфигурации: paper при PAPER_TRADING/DRY_RUN,
// иначе HTTP клиент к LIVE_API_URL.
func NewTransport(cfg config.ExecutionConfig, sec config.SecurityConfig, logger *zap.Logger) (OrderTransport, error) {
	if cfg.PaperTrading {
		return NewPaperTransport(cfg.PaperLatency), nil
	}

	httpCfg, err := HTTPConfigFromEnv(cfg, sec)
	if err != nil {
		return nil, err
	}
	return NewHTTPTransport(httpCfg, logger)
}
