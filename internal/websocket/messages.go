package websocket

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"riskgate/internal/eventbus"
	"riskgate/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeExposureUpdate - экспозиция по инструментам и число открытых ордеров
	MessageTypeExposureUpdate MessageType = "exposureUpdate"

	// MessageTypePnLUpdate - дневной PnL и состояние kill switch
	MessageTypePnLUpdate MessageType = "pnlUpdate"

	// MessageTypeOrderSubmitted - ордер одобрен и отправлен
	MessageTypeOrderSubmitted MessageType = "orderSubmitted"

	// MessageTypeOrderFilled - ордер исполнен
	MessageTypeOrderFilled MessageType = "orderFilled"

	// MessageTypeTicker - цена инструмента
	MessageTypeTicker MessageType = "ticker"

	// MessageTypeFill - входящее исполнение от биржи
	MessageTypeFill MessageType = "fill"

	// MessageTypeNotification - оповещение (kill switch, порог PnL)
	MessageTypeNotification MessageType = "notification"
)

var topicTypes = map[eventbus.Topic]MessageType{
	eventbus.TopicExposureUpdate: MessageTypeExposureUpdate,
	eventbus.TopicPnLUpdate:      MessageTypePnLUpdate,
	eventbus.TopicOrderSubmitted: MessageTypeOrderSubmitted,
	eventbus.TopicOrderFilled:    MessageTypeOrderFilled,
	eventbus.TopicTicker:         MessageTypeTicker,
	eventbus.TopicFill:           MessageTypeFill,
}

// BaseMessage - общие поля всех сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventMessage - событие шины в исходном JSON виде
type EventMessage struct {
	BaseMessage
	Data jsoniter.RawMessage `json:"data"`
}

// NotificationMessage - оповещение оператору
type NotificationMessage struct {
	BaseMessage
	Data *NotificationData `json:"data"`
}

// NotificationData - данные уведомления
type NotificationData struct {
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEventMessage оборачивает сообщение шины. Полезная нагрузка
// проверяется разбором в типизированное событие.
func NewEventMessage(msg eventbus.Message) (*EventMessage, error) {
	if _, err := msg.Event(); err != nil {
		return nil, err
	}
	return &EventMessage{
		BaseMessage: BaseMessage{Type: topicTypes[msg.Topic], Timestamp: time.Now()},
		Data:        msg.Data,
	}, nil
}

// NewNotificationMessage создаёт сообщение уведомления
func NewNotificationMessage(n *models.Notification) *NotificationMessage {
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &NotificationMessage{
		BaseMessage: BaseMessage{Type: MessageTypeNotification, Timestamp: time.Now()},
		Data: &NotificationData{
			Type:      n.Type,
			Severity:  n.Severity,
			Message:   n.Message,
			Meta:      n.Meta,
			Timestamp: ts,
		},
	}
}
