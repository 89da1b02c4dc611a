package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PaperTransport имитирует площадку: ордер исполняется сразу по лимитной цене.
// Повтор с тем же ClientOrderID возвращает прежний ответ.
type PaperTransport struct {
	latency time.Duration

	mu     sync.Mutex
	orders map[string]OrderAck
}

// NewPaperTransport создаёт paper транспорт с необязательной задержкой ответа
func NewPaperTransport(latency time.Duration) *PaperTransport {
	return &PaperTransport{
		latency: latency,
		orders:  make(map[string]OrderAck),
	}
}

func (t *PaperTransport) Name() string { return "paper" }

// CreateOrder возвращает AckFilled с ценой лимита
func (t *PaperTransport) CreateOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	if t.latency > 0 {
		timer := time.NewTimer(t.latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return OrderAck{}, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if ack, ok := t.orders[req.ClientOrderID]; ok {
		return ack, nil
	}

	ack := OrderAck{
		ExchangeOrderID: uuid.NewString(),
		ClientOrderID:   req.ClientOrderID,
		Status:          AckFilled,
		FilledSize:      req.Size,
		FillPrice:       req.LimitPrice,
	}
	t.orders[req.ClientOrderID] = ack
	return ack, nil
}

// Orders возвращает число уникальных ордеров
func (t *PaperTransport) Orders() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.orders)
}
