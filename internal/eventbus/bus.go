package eventbus

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"riskgate/internal/config"
)

// ErrClosed - шина закрыта
var ErrClosed = errors.New("eventbus: closed")

// Publisher публикует типизированные события
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber выдаёт канал сообщений темы. Канал закрывается при отмене ctx
// или закрытии шины.
type Subscriber interface {
	Subscribe(ctx context.Context, topic Topic) (<-chan Message, error)
}

// Bus - шина событий: публикация, подписка, закрытие
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// PublisherFunc адаптирует функцию к Publisher
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Nop - публикатор, отбрасывающий события
var Nop Publisher = PublisherFunc(func(context.Context, Event) error { return nil })

// New создаёт шину по конфигурации (EVENT_BUS).
//
// Для сетевых бэкендов (redis, kafka) Publish может блокироваться на I/O,
// поэтому вызывающие под блокировкой оборачивают их в AsyncPublisher.
func New(cfg config.EventBusConfig, logger *zap.Logger) (Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case "", "memory":
		return NewMemoryBus(logger), nil
	case "redis":
		return NewRedisBus(RedisOptions{
			Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.TopicPrefix,
		}, logger)
	case "kafka":
		return NewKafkaBus(KafkaOptions{
			Brokers: cfg.KafkaBrokers,
			Prefix:  cfg.TopicPrefix,
		}, logger)
	}
	return nil, fmt.Errorf("eventbus: unknown backend %q", cfg.Backend)
}

// IsNetwork сообщает, что бэкенд выполняет сетевой I/O при публикации
func IsNetwork(backend string) bool {
	return backend == "redis" || backend == "kafka"
}
