// Package strategy содержит торговые стратегии и реестр их фабрик.
//
// Стратегия читает тики из шины событий и передаёт намерения в конвейер
// исполнения. Все ордера проходят проверки риска внутри конвейера.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"riskgate/internal/eventbus"
	"riskgate/internal/models"
)

var (
	ErrUnknownStrategy   = errors.New("strategy: unknown strategy")
	ErrDuplicateStrategy = errors.New("strategy: already registered")
	ErrNoSubscriber      = errors.New("strategy: event bus subscriber is required")
)

// Strategy - долгоживущая торговая логика
type Strategy interface {
	Name() string
	Run(ctx context.Context) error
}

// Submitter принимает намерения (execution.Pipeline)
type Submitter interface {
	Submit(intent models.OrderIntent) error
}

// Deps - зависимости, общие для всех стратегий
type Deps struct {
	Bus       eventbus.Subscriber
	Submitter Submitter
	Logger    *zap.Logger
}

// Factory создаёт стратегию с параметрами из файла или окружения
type Factory func(deps Deps, params Params) (Strategy, error)

// Registry - имя стратегии -> фабрика
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry создаёт пустой реестр
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register добавляет фабрику. Повторное имя - ошибка.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, name)
	}
	r.factories[name] = f
	return nil
}

// Names возвращает зарегистрированные имена в алфавитном порядке
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build создаёт стратегию по описанию
func (r *Registry) Build(spec Spec, deps Deps) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[spec.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownStrategy, spec.Name, r.Names())
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	s, err := f(deps, spec.Params)
	if err != nil {
		return nil, fmt.Errorf("build strategy %s: %w", spec.Name, err)
	}
	return s, nil
}

// BuildAll создаёт все стратегии; первая ошибка прерывает сборку
func (r *Registry) BuildAll(specs []Spec, deps Deps) ([]Strategy, error) {
	out := make([]Strategy, 0, len(specs))
	for _, spec := range specs {
		s, err := r.Build(spec, deps)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// DefaultRegistry регистрирует встроенные стратегии.
// defaults задаёт параметры, не указанные в файле (SMA_WINDOW, STRATEGY_SIZE).
func DefaultRegistry(defaults Params) *Registry {
	r := NewRegistry()
	_ = r.Register(NameSMA, func(deps Deps, p Params) (Strategy, error) {
		return NewSMA(deps, defaults.Merge(p))
	})
	_ = r.Register(NameMomentum, func(deps Deps, p Params) (Strategy, error) {
		return NewMomentum(deps, defaults.Merge(p))
	})
	_ = r.Register(NameNoop, func(deps Deps, _ Params) (Strategy, error) {
		return NewNoop(deps.Logger), nil
	})
	return r
}

// RunAll запускает стратегии параллельно и ждёт их завершения.
// Ошибки всех стратегий объединяются.
func RunAll(ctx context.Context, strategies []Strategy, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, s := range strategies {
		wg.Add(1)
		go func(s Strategy) {
			defer wg.Done()
			logger.Info("strategy started", zap.String("strategy", s.Name()))
			err := s.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("strategy stopped with error", zap.String("strategy", s.Name()), zap.Error(err))
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
				return
			}
			logger.Info("strategy stopped", zap.String("strategy", s.Name()))
		}(s)
	}
	wg.Wait()
	return errs
}

// subscribeTickers открывает подписку на тики и раскодирует их
func subscribeTickers(ctx context.Context, bus eventbus.Subscriber, logger *zap.Logger) (<-chan eventbus.Ticker, error) {
	if bus == nil {
		return nil, ErrNoSubscriber
	}
	msgs, err := bus.Subscribe(ctx, eventbus.TopicTicker)
	if err != nil {
		return nil, fmt.Errorf("subscribe ticker: %w", err)
	}

	out := make(chan eventbus.Ticker)
	go func() {
		defer close(out)
		for msg := range msgs {
			var t eventbus.Ticker
			if err := msg.Decode(&t); err != nil || t.Validate() != nil {
				logger.Debug("malformed ticker skipped", zap.Error(err))
				continue
			}
			select {
			case out <- t:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
