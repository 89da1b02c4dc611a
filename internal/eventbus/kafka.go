package eventbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const defaultDialTimeout = 5 * time.Second

// KafkaOptions - параметры Kafka
type KafkaOptions struct {
	Brokers      []string
	Prefix       string // префикс топика
	BatchTimeout time.Duration
}

// kafkaWriter - часть *kafka.Writer, используемая шиной
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// kafkaReader - часть *kafka.Reader, используемая шиной
type kafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaBus публикует события в топики Kafka.
//
// Каждый подписчик получает собственную consumer group и читает
// с конца топика: семантика fan-out как у pub/sub.
type KafkaBus struct {
	opts      KafkaOptions
	writer    kafkaWriter
	newReader func(kafka.ReaderConfig) kafkaReader
	logger    *zap.Logger

	mu      sync.Mutex
	readers []kafkaReader
	closed  bool
}

// NewKafkaBus создаёт writer. Соединение с брокерами устанавливается лениво.
func NewKafkaBus(opts KafkaOptions, logger *zap.Logger) (*KafkaBus, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("eventbus: kafka brokers are required")
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 10 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: opts.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	newReader := func(cfg kafka.ReaderConfig) kafkaReader {
		return kafka.NewReader(cfg)
	}
	return newKafkaBus(opts, writer, newReader, logger), nil
}

func newKafkaBus(opts KafkaOptions, writer kafkaWriter, newReader func(kafka.ReaderConfig) kafkaReader, logger *zap.Logger) *KafkaBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaBus{
		opts:      opts,
		writer:    writer,
		newReader: newReader,
		logger:    logger.Named("eventbus.kafka"),
	}
}

func (b *KafkaBus) topicName(topic Topic) string {
	return b.opts.Prefix + string(topic)
}

// Publish пишет событие в топик темы
func (b *KafkaBus) Publish(ctx context.Context, ev Event) error {
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

	err = b.writer.WriteMessages(ctx, kafka.Message{
		Topic: b.topicName(ev.Topic()),
		Value: data,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("eventbus: kafka write %s: %w", ev.Topic(), err)
	}
	return nil
}

// Subscribe создаёт reader с уникальной группой
func (b *KafkaBus) Subscribe(ctx context.Context, topic Topic) (<-chan Message, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	reader := b.newReader(kafka.ReaderConfig{
		Brokers:     b.opts.Brokers,
		Topic:       b.topicName(topic),
		GroupID:     b.opts.Prefix + "sub-" + uuid.NewString(),
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	b.readers = append(b.readers, reader)
	b.mu.Unlock()

	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, io.EOF) {
					b.logger.Warn("kafka read failed", zap.String("topic", string(topic)), zap.Error(err))
				}
				return
			}
			msg := Message{
				Topic: Topic(strings.TrimPrefix(m.Topic, b.opts.Prefix)),
				Data:  m.Value,
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close закрывает readers и writer
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	readers := b.readers
	b.readers = nil
	b.mu.Unlock()

	var err error
	for _, r := range readers {
		err = multierr.Append(err, r.Close())
	}
	return multierr.Append(err, b.writer.Close())
}
