package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultMaxPending - предел очереди одного подписчика в памяти
const DefaultMaxPending = 10000

// MemoryBus - шина в пределах процесса.
//
// Publish не блокируется: у каждого подписчика своя очередь и goroutine
// доставки. Медленный подписчик не тормозит публикацию и других
// подписчиков; при переполнении его очереди события отбрасываются.
// Порядок событий для одного подписчика сохраняется.
type MemoryBus struct {
	logger     *zap.Logger
	maxPending int

	mu     sync.RWMutex
	subs   map[Topic]map[*memorySub]struct{}
	closed bool

	dropped atomic.Int64
}

// NewMemoryBus создаёт шину в памяти
func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBus{
		logger:     logger.Named("eventbus.memory"),
		maxPending: DefaultMaxPending,
		subs:       make(map[Topic]map[*memorySub]struct{}),
	}
}

// SetMaxPending меняет предел очереди для новых подписчиков
func (b *MemoryBus) SetMaxPending(n int) {
	if n > 0 {
		b.maxPending = n
	}
}

// Dropped возвращает число отброшенных из-за переполнения событий
func (b *MemoryBus) Dropped() int64 {
	return b.dropped.Load()
}

// Publish проверяет событие и раздаёт его подписчикам темы
func (b *MemoryBus) Publish(_ context.Context, ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	msg := Message{Topic: ev.Topic(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	for sub := range b.subs[msg.Topic] {
		if !sub.enqueue(msg) {
			b.dropped.Add(1)
			b.logger.Warn("subscriber queue full, event dropped",
				zap.String("topic", string(msg.Topic)),
				zap.Int("max_pending", sub.maxPending),
			)
		}
	}
	return nil
}

// Subscribe регистрирует подписчика темы
func (b *MemoryBus) Subscribe(ctx context.Context, topic Topic) (<-chan Message, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}

	sub := newMemorySub(b.maxPending)
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*memorySub]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()

	go sub.pump()
	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(topic, sub)
		case <-sub.done:
		}
	}()

	return sub.out, nil
}

func (b *MemoryBus) unsubscribe(topic Topic, sub *memorySub) {
	b.mu.Lock()
	if set, ok := b.subs[topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, topic)
		}
	}
	b.mu.Unlock()
	sub.close()
}

// Close закрывает все подписки. Повторный вызов безопасен.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[Topic]map[*memorySub]struct{})
	b.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.close()
		}
	}
	return nil
}

// SubscriberCount возвращает число подписчиков темы
func (b *MemoryBus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// ============ Подписчик ============

// memorySub - очередь подписчика и goroutine доставки
type memorySub struct {
	maxPending int

	mu      sync.Mutex
	cond    *sync.Cond
	pending []Message
	closed  bool

	out  chan Message
	done chan struct{}
}

func newMemorySub(maxPending int) *memorySub {
	s := &memorySub{
		maxPending: maxPending,
		out:        make(chan Message),
		done:       make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memorySub) enqueue(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	if len(s.pending) >= s.maxPending {
		return false
	}
	s.pending = append(s.pending, msg)
	s.cond.Signal()
	return true
}

func (s *memorySub) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		msg := s.pending[0]
		s.pending[0] = Message{}
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *memorySub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	s.cond.Broadcast()
}
