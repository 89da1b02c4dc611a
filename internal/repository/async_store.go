package repository

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"riskgate/internal/models"
)

// storeOp - отложенная запись
type storeOp struct {
	name string
	fn   func(ctx context.Context) error
}

// AsyncStore выполняет записи во внутреннее хранилище одной goroutine
// в порядке поступления. Запись никогда не блокирует вызывающего:
// при переполнении очереди операция отбрасывается. Ошибки пишутся в лог.
// Чтения идут напрямую во внутреннее хранилище.
type AsyncStore struct {
	inner   StateStore
	logger  *zap.Logger
	timeout time.Duration

	queue chan storeOp
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsyncStore запускает worker с очередью size
func NewAsyncStore(inner StateStore, size int, logger *zap.Logger) *AsyncStore {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AsyncStore{
		inner:   inner,
		logger:  logger.Named("store"),
		timeout: 5 * time.Second,
		queue:   make(chan storeOp, size),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncStore) run() {
	defer close(s.done)
	for op := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := op.fn(ctx)
		cancel()
		if err != nil {
			StoreFailures.WithLabelValues(op.name).Inc()
			s.logger.Warn("state store write failed", zap.String("op", op.name), zap.Error(err))
		}
	}
}

func (s *AsyncStore) enqueue(name string, fn func(ctx context.Context) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	select {
	case s.queue <- storeOp{name: name, fn: fn}:
	default:
		StoreDropped.Inc()
		s.logger.Warn("state store queue full, write dropped", zap.String("op", name))
	}
	StoreQueueDepth.Set(float64(len(s.queue)))
	return nil
}

func (s *AsyncStore) SaveOrder(_ context.Context, order models.PendingOrder) error {
	return s.enqueue("save_order", func(ctx context.Context) error {
		return s.inner.SaveOrder(ctx, order)
	})
}

func (s *AsyncStore) SettleOrder(_ context.Context, orderID string, fillPrice, size float64) error {
	return s.enqueue("settle_order", func(ctx context.Context) error {
		return s.inner.SettleOrder(ctx, orderID, fillPrice, size)
	})
}

func (s *AsyncStore) UpdateExposure(_ context.Context, instrument string, notional float64) error {
	return s.enqueue("update_exposure", func(ctx context.Context) error {
		return s.inner.UpdateExposure(ctx, instrument, notional)
	})
}

func (s *AsyncStore) UpdatePosition(_ context.Context, pos models.Position) error {
	return s.enqueue("update_position", func(ctx context.Context) error {
		return s.inner.UpdatePosition(ctx, pos)
	})
}

func (s *AsyncStore) UpdateDailyPnL(_ context.Context, tradeDate string, pnl float64) error {
	return s.enqueue("update_daily_pnl", func(ctx context.Context) error {
		return s.inner.UpdateDailyPnL(ctx, tradeDate, pnl)
	})
}

func (s *AsyncStore) ResetDaily(_ context.Context, tradeDate string) error {
	return s.enqueue("reset_daily", func(ctx context.Context) error {
		return s.inner.ResetDaily(ctx, tradeDate)
	})
}

func (s *AsyncStore) GetExposures(ctx context.Context) (map[string]float64, error) {
	return s.inner.GetExposures(ctx)
}

func (s *AsyncStore) GetPositions(ctx context.Context) (map[string]models.Position, error) {
	return s.inner.GetPositions(ctx)
}

func (s *AsyncStore) GetDailyPnL(ctx context.Context, tradeDate string) (float64, bool, error) {
	return s.inner.GetDailyPnL(ctx, tradeDate)
}

// Pending возвращает число операций в очереди
func (s *AsyncStore) Pending() int {
	return len(s.queue)
}

// Flush дожидается выполнения очереди без закрытия хранилища
func (s *AsyncStore) Flush(ctx context.Context) error {
	marker := make(chan struct{})
	if err := s.enqueue("flush", func(context.Context) error {
		close(marker)
		return nil
	}); err != nil {
		return err
	}
	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown прекращает приём, дожидается очереди и закрывает внутреннее хранилище
func (s *AsyncStore) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.inner.Close()
}

// Close эквивалентен Shutdown с таймаутом по умолчанию
func (s *AsyncStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}
