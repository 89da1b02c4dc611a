package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"riskgate/pkg/retry"
	"riskgate/pkg/utils"
)

// RedisOptions - параметры подключения Redis pub/sub
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // префикс канала, тема добавляется к нему
}

// RedisBus публикует события в каналы Redis pub/sub
type RedisBus struct {
	client *redis.Client
	prefix string
	logger *zap.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewRedisBus подключается к Redis и проверяет соединение
func NewRedisBus(opts RedisOptions, logger *zap.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if logger == nil {
		logger = zap.NewNop()
	}

	// брокер может подниматься вместе с сервисом
	cfg := retry.NetworkConfig()
	cfg.AttemptTimeout = defaultDialTimeout
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("redis not reachable, retrying",
			zap.String("addr", opts.Addr),
			utils.Attempt(attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
	err := retry.Do(context.Background(), func(ctx context.Context, _ int) error {
		return client.Ping(ctx).Err()
	}, cfg)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("eventbus: redis ping %s: %w", opts.Addr, err)
	}

	return NewRedisBusWithClient(client, opts.Prefix, logger), nil
}

// NewRedisBusWithClient оборачивает готовый клиент
func NewRedisBusWithClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{
		client: client,
		prefix: prefix,
		logger: logger.Named("eventbus.redis"),
	}
}

func (b *RedisBus) channel(topic Topic) string {
	return b.prefix + string(topic)
}

// Publish сериализует событие и публикует его в канал темы
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := b.client.Publish(ctx, b.channel(ev.Topic()), data).Err(); err != nil {
		return fmt.Errorf("eventbus: redis publish %s: %w", ev.Topic(), err)
	}
	return nil
}

// Subscribe подписывается на канал темы
func (b *RedisBus) Subscribe(ctx context.Context, topic Topic) (<-chan Message, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	pubsub := b.client.Subscribe(ctx, b.channel(topic))
	b.subs = append(b.subs, pubsub)
	b.mu.Unlock()

	// Дожидаемся подтверждения подписки, иначе ранние события теряются
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("eventbus: redis subscribe %s: %w", topic, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				msg := Message{
					Topic: Topic(strings.TrimPrefix(m.Channel, b.prefix)),
					Data:  []byte(m.Payload),
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close закрывает подписки и клиент
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, ps := range subs {
		if err := ps.Close(); err != nil {
			b.logger.Debug("close pubsub", zap.Error(err))
		}
	}
	return b.client.Close()
}
