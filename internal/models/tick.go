package models

import (
	"math"
	"time"
)

// PriceTick - тик цены от поставщика рыночных данных
type PriceTick struct {
	Instrument string    `json:"instrument" validate:"required"`
	Price      float64   `json:"price" validate:"gt=0"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// Validate проверяет тик: инструмент задан, цена конечна и положительна
func (t PriceTick) Validate() error {
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) {
		return &ValidationError{Field: "price", Reason: "must be finite"}
	}
	return validateStruct(t)
}
