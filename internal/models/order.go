package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Side - направление ордера
type Side string

// Направления ордера
const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide нормализует строку направления (BUY, Sell, ...)
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", &ValidationError{Field: "side", Reason: fmt.Sprintf("unknown side %q", s)}
}

// Sign возвращает +1 для покупки и -1 для продажи
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// OrderIntent - заявка стратегии на ордер.
// Неизменяема, проверяется на границе системы (Validate) и
// потребляется конвейером исполнения ровно один раз.
type OrderIntent struct {
	Instrument string  `json:"instrument" validate:"required"`
	Side       Side    `json:"side" validate:"required,oneof=buy sell"`
	Size       float64 `json:"size" validate:"gt=0"`
	LimitPrice float64 `json:"limitPrice" validate:"gt=0"`
}

// Notional возвращает size*limitPrice в валюте котировки
func (i OrderIntent) Notional() float64 {
	return i.Size * i.LimitPrice
}

// SignedNotional возвращает +notional для покупки и -notional для продажи
func (i OrderIntent) SignedNotional() float64 {
	return i.Side.Sign() * i.Notional()
}

// Validate проверяет заявку: инструмент задан, размер и цена положительны
func (i OrderIntent) Validate() error {
	if math.IsNaN(i.Size) || math.IsInf(i.Size, 0) {
		return &ValidationError{Field: "size", Reason: "must be finite"}
	}
	if math.IsNaN(i.LimitPrice) || math.IsInf(i.LimitPrice, 0) {
		return &ValidationError{Field: "limitPrice", Reason: "must be finite"}
	}
	return validateStruct(i)
}

// PendingOrder - зарегистрированный, ещё не урегулированный ордер.
// ID служит idempotency токеном и переиспользуется при повторных отправках.
type PendingOrder struct {
	ID        string      `json:"id"`
	Intent    OrderIntent `json:"intent"`
	Notional  float64     `json:"notional"`
	CreatedAt time.Time   `json:"createdAt"`
}

// FillNotification - уведомление об исполнении от транспорта/биржи
type FillNotification struct {
	OrderID    string  `json:"orderId" validate:"required"`
	Instrument string  `json:"instrument"`
	Side       Side    `json:"side"`
	Size       float64 `json:"size" validate:"gte=0"`
	Price      float64 `json:"price" validate:"gte=0"`
}

// Validate проверяет уведомление об исполнении
func (f FillNotification) Validate() error {
	return validateStruct(f)
}

// Position - позиция по инструменту
type Position struct {
	Instrument   string  `json:"instrument"`
	Quantity     float64 `json:"quantity"`
	AveragePrice float64 `json:"averagePrice"`
}
