package market

import (
	"sync"
	"time"
)

// Quote - последняя цена инструмента
type Quote struct {
	Instrument string    `json:"instrument"`
	Price      float64   `json:"price"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// PriceCache хранит последнюю цену по каждому инструменту.
// Используется конвейером исполнения как источник опорной цены.
type PriceCache struct {
	quotes map[string]Quote
	mu     sync.RWMutex
}

// NewPriceCache создаёт пустой кэш
func NewPriceCache() *PriceCache {
	return &PriceCache{quotes: make(map[string]Quote)}
}

// Update записывает цену. Более старый тик не перезаписывает новый.
func (c *PriceCache) Update(instrument string, price float64, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.quotes[instrument]; ok && !ts.IsZero() && ts.Before(prev.UpdatedAt) {
		return
	}
	c.quotes[instrument] = Quote{Instrument: instrument, Price: price, UpdatedAt: ts}
}

// Price возвращает последнюю цену, false - цены ещё не было
func (c *PriceCache) Price(instrument string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.quotes[instrument]
	return q.Price, ok
}

// Quote возвращает последнюю котировку
func (c *PriceCache) Quote(instrument string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.quotes[instrument]
	return q, ok
}

// Snapshot возвращает копию всех котировок
func (c *PriceCache) Snapshot() map[string]Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Quote, len(c.quotes))
	for k, v := range c.quotes {
		out[k] = v
	}
	return out
}
