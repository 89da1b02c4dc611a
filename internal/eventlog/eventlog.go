// Package eventlog пишет все события шины в JSONL файл и воспроизводит его.
//
// Каждая запись получает ULID: идентификаторы монотонны в пределах
// процесса, поэтому сортировка по id совпадает с порядком записи.
package eventlog

import (
	"bufio"
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"riskgate/internal/eventbus"
	"riskgate/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxLine - предел длины одной записи при чтении
const maxLine = 1 << 20

// Record - одна строка журнала
type Record struct {
	ID    string              `json:"id"`
	Time  time.Time           `json:"time"`
	Topic eventbus.Topic      `json:"topic"`
	Data  jsoniter.RawMessage `json:"data"`
}

// Event разбирает полезную нагрузку в типизированное событие
func (r Record) Event() (eventbus.Event, error) {
	return eventbus.Message{Topic: r.Topic, Data: r.Data}.Event()
}

// Writer дописывает события в файл. Безопасен для конкурентного использования.
type Writer struct {
	path   string
	logger *zap.Logger
	clock  func() time.Time

	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	entropy io.Reader
	closed  bool

	written atomic.Int64
}

// Open открывает (или создаёт) журнал для дописывания
func Open(path string, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	var seed int64
	_ = binary.Read(cryptorand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Writer{
		path:    path,
		logger:  logger.Named("eventlog"),
		clock:   func() time.Time { return time.Now().UTC() },
		file:    f,
		buf:     bufio.NewWriter(f),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
	}, nil
}

// Path возвращает путь файла журнала
func (w *Writer) Path() string { return w.path }

// Written возвращает число записанных событий
func (w *Writer) Written() int64 { return w.written.Load() }

// Append записывает сообщение шины и сбрасывает буфер на диск
func (w *Writer) Append(msg eventbus.Message) (Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return Record{}, errors.New("eventlog: writer closed")
	}

	now := w.clock()
	id, err := ulid.New(ulid.Timestamp(now), w.entropy)
	if err != nil {
		return Record{}, fmt.Errorf("eventlog: new id: %w", err)
	}
	rec := Record{ID: id.String(), Time: now, Topic: msg.Topic, Data: msg.Data}

	line, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("eventlog: encode: %w", err)
	}
	if _, err := w.buf.Write(append(line, '\n')); err != nil {
		return Record{}, fmt.Errorf("eventlog: write: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return Record{}, fmt.Errorf("eventlog: flush: %w", err)
	}
	w.written.Add(1)
	return rec, nil
}

// Run подписывается на темы (по умолчанию на все) и пишет события до
// отмены ctx или закрытия шины
func (w *Writer) Run(ctx context.Context, sub eventbus.Subscriber, topics ...eventbus.Topic) error {
	if len(topics) == 0 {
		topics = eventbus.AllTopics()
	}

	chans := make([]<-chan eventbus.Message, 0, len(topics))
	for _, topic := range topics {
		ch, err := sub.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("eventlog: subscribe %s: %w", topic, err)
		}
		chans = append(chans, ch)
	}
	w.logger.Info("event log recording", zap.String("path", w.path), zap.Int("topics", len(topics)))

	var wg sync.WaitGroup
	for _, ch := range chans {
		wg.Add(1)
		go func(ch <-chan eventbus.Message) {
			defer wg.Done()
			for msg := range ch {
				if _, err := w.Append(msg); err != nil {
					w.logger.Error("event log append failed", utils.Topic(string(msg.Topic)), zap.Error(err))
				}
			}
		}(ch)
	}
	wg.Wait()
	return nil
}

// Close сбрасывает буфер и закрывает файл
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Replay читает журнал и вызывает fn для каждой записи.
// Ошибка fn останавливает чтение и возвращается.
func Replay(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	_, err = Read(f, fn)
	return err
}

// Read разбирает JSONL поток. Повреждённые строки пропускаются
// и возвращаются в skipped.
func Read(r io.Reader, fn func(Record) error) (skipped int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil || rec.ID == "" {
			skipped++
			continue
		}
		if err := fn(rec); err != nil {
			return skipped, err
		}
	}
	if err := scanner.Err(); err != nil {
		return skipped, fmt.Errorf("read event log: %w", err)
	}
	return skipped, nil
}
