package eventbus

import (
	"fmt"
	"math"
	"time"

	jsoniter "github.com/json-iterator/go"

	"riskgate/internal/models"
)

// Topic - имя темы шины событий
type Topic string

// Темы шины
const (
	TopicExposureUpdate Topic = "exposure_update"
	TopicPnLUpdate      Topic = "pnl_update"
	TopicOrderSubmitted Topic = "order_submitted"
	TopicOrderFilled    Topic = "order_filled"
	TopicTicker         Topic = "ticker"
	TopicFill           Topic = "fill"
)

// AllTopics возвращает все известные темы
func AllTopics() []Topic {
	return []Topic{
		TopicExposureUpdate,
		TopicPnLUpdate,
		TopicOrderSubmitted,
		TopicOrderFilled,
		TopicTicker,
		TopicFill,
	}
}

// Event - типизированное событие. Каждый тип привязан к одной теме
// и проверяется до сериализации.
type Event interface {
	Topic() Topic
	Validate() error
}

// json - совместимый со стандартной библиотекой codec json-iterator
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ exposure_update ============

// ExposureUpdate публикуется после регистрации/урегулирования ордера и сброса дня
type ExposureUpdate struct {
	Instrument string             `json:"instrument"`
	Exposure   float64            `json:"exposure"`
	Exposures  map[string]float64 `json:"exposures"`
	OpenOrders int                `json:"openOrders"`
}

func (ExposureUpdate) Topic() Topic { return TopicExposureUpdate }

func (e ExposureUpdate) Validate() error {
	if e.OpenOrders < 0 {
		return invalid(e.Topic(), "openOrders", "must be non-negative")
	}
	if !finite(e.Exposure) {
		return invalid(e.Topic(), "exposure", "must be finite")
	}
	return nil
}

// ============ pnl_update ============

// PnLUpdate публикуется при изменении дневного PnL или kill switch
type PnLUpdate struct {
	DailyPnL   float64 `json:"dailyPnl"`
	KillSwitch bool    `json:"killSwitch"`
}

func (PnLUpdate) Topic() Topic { return TopicPnLUpdate }

func (e PnLUpdate) Validate() error {
	if !finite(e.DailyPnL) {
		return invalid(e.Topic(), "dailyPnl", "must be finite")
	}
	return nil
}

// ============ order_submitted / order_filled / fill ============

// OrderFields - общие поля событий жизненного цикла ордера
type OrderFields struct {
	OrderID    string      `json:"orderId"`
	Instrument string      `json:"instrument"`
	Side       models.Side `json:"side"`
	Size       float64     `json:"size"`
	Price      float64     `json:"price"`
}

func (f OrderFields) validate(topic Topic) error {
	switch {
	case f.OrderID == "":
		return invalid(topic, "orderId", "is required")
	case f.Instrument == "":
		return invalid(topic, "instrument", "is required")
	case f.Side != models.SideBuy && f.Side != models.SideSell:
		return invalid(topic, "side", "must be buy or sell")
	case f.Size < 0 || !finite(f.Size):
		return invalid(topic, "size", "must be a non-negative number")
	case f.Price < 0 || !finite(f.Price):
		return invalid(topic, "price", "must be a non-negative number")
	}
	return nil
}

// OrderSubmitted - ордер одобрен и передан в транспорт
type OrderSubmitted struct {
	OrderFields
}

func (OrderSubmitted) Topic() Topic      { return TopicOrderSubmitted }
func (e OrderSubmitted) Validate() error { return e.validate(e.Topic()) }

// OrderFilled - ордер исполнен и урегулирован в учёте риска
type OrderFilled struct {
	OrderFields
}

func (OrderFilled) Topic() Topic      { return TopicOrderFilled }
func (e OrderFilled) Validate() error { return e.validate(e.Topic()) }

// Fill - уведомление об исполнении от user channel биржи (вход в систему)
type Fill struct {
	OrderFields
}

func (Fill) Topic() Topic      { return TopicFill }
func (e Fill) Validate() error { return e.validate(e.Topic()) }

// ToNotification переводит событие в уведомление для конвейера исполнения
func (e Fill) ToNotification() models.FillNotification {
	return models.FillNotification{
		OrderID:    e.OrderID,
		Instrument: e.Instrument,
		Side:       e.Side,
		Size:       e.Size,
		Price:      e.Price,
	}
}

// ============ ticker ============

// Ticker - нормализованный тик цены
type Ticker struct {
	ProductID string    `json:"product_id"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

func (Ticker) Topic() Topic { return TopicTicker }

func (e Ticker) Validate() error {
	if e.ProductID == "" {
		return invalid(e.Topic(), "product_id", "is required")
	}
	if e.Price <= 0 || !finite(e.Price) {
		return invalid(e.Topic(), "price", "must be positive")
	}
	return nil
}

// ============ Кодирование ============

// Encode проверяет событие и сериализует его в JSON
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("eventbus: nil event")
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(ev)
}

// Message - сообщение, полученное подписчиком
type Message struct {
	Topic Topic
	Data  []byte
}

// Decode разбирает полезную нагрузку в v
func (m Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Data, v)
}

// Event разбирает сообщение в типизированное событие по теме
func (m Message) Event() (Event, error) {
	var ev Event
	switch m.Topic {
	case TopicExposureUpdate:
		var e ExposureUpdate
		if err := m.Decode(&e); err != nil {
			return nil, err
		}
		ev = e
	case TopicPnLUpdate:
		var e PnLUpdate
		if err := m.Decode(&e); err != nil {
			return nil, err
		}
		ev = e
	case TopicOrderSubmitted:
		var e OrderSubmitted
		if err := m.Decode(&e); err != nil {
			return nil, err
		}
		ev = e
	case TopicOrderFilled:
		var e OrderFilled
		if err := m.Decode(&e); err != nil {
			return nil, err
		}
		ev = e
	case TopicFill:
		var e Fill
		if err := m.Decode(&e); err != nil {
			return nil, err
		}
		ev = e
	case TopicTicker:
		var e Ticker
		if err := m.Decode(&e); err != nil {
			return nil, err
		}
		ev = e
	default:
		return nil, fmt.Errorf("eventbus: unknown topic %q", m.Topic)
	}
	return ev, ev.Validate()
}

// ============ Ошибки ============

// InvalidEventError - событие не прошло проверку на границе публикации
type InvalidEventError struct {
	Topic  Topic
	Field  string
	Reason string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("eventbus: invalid %s event: %s %s", e.Topic, e.Field, e.Reason)
}

func invalid(topic Topic, field, reason string) error {
	return &InvalidEventError{Topic: topic, Field: field, Reason: reason}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
