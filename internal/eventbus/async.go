package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// AsyncPublisher - упорядоченный outbox перед сетевым публикатором.
//
// Publish только проверяет событие и ставит его в очередь, не блокируясь.
// Одна goroutine отправляет события во внутренний публикатор в порядке
// постановки. При переполнении очереди событие отбрасывается с записью в лог.
type AsyncPublisher struct {
	inner   Publisher
	logger  *zap.Logger
	timeout time.Duration

	queue chan Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
	failed  atomic.Int64
}

// NewAsyncPublisher создаёт outbox размера size и запускает отправку
func NewAsyncPublisher(inner Publisher, size int, logger *zap.Logger) *AsyncPublisher {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &AsyncPublisher{
		inner:   inner,
		logger:  logger.Named("eventbus.outbox"),
		timeout: defaultDialTimeout,
		queue:   make(chan Event, size),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish ставит событие в очередь
func (p *AsyncPublisher) Publish(_ context.Context, ev Event) error {
	if ev == nil {
		return nil
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.queue <- ev:
	default:
		p.dropped.Add(1)
		p.logger.Warn("outbox full, event dropped", zap.String("topic", string(ev.Topic())))
	}
	return nil
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.inner.Publish(ctx, ev); err != nil {
			p.failed.Add(1)
			p.logger.Warn("publish failed", zap.String("topic", string(ev.Topic())), zap.Error(err))
		}
		cancel()
	}
}

// Pending возвращает число событий в очереди
func (p *AsyncPublisher) Pending() int {
	return len(p.queue)
}

// Dropped возвращает число отброшенных событий
func (p *AsyncPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Failed возвращает число событий, которые не удалось отправить
func (p *AsyncPublisher) Failed() int64 {
	return p.failed.Load()
}

// Close прекращает приём и дожидается отправки очереди или отмены ctx
func (p *AsyncPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
