package websocket

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"riskgate/internal/eventbus"
	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// broadcastBufferSize - очередь сообщений hub до раздачи клиентам
const broadcastBufferSize = 1024

// jsonBufferPool убирает аллокацию буфера на каждый Broadcast
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет WebSocket соединениями панели оператора и раздаёт им
// события шины: экспозицию, PnL, ордера, тики и уведомления.
//
// Broadcast не блокируется: при заполненной очереди сообщение
// отбрасывается и учитывается в DroppedMessages. Клиент, не успевающий
// читать, отключается.
type Hub struct {
	logger  *zap.Logger
	origins *OriginChecker

	clients map[*Client]bool
	mu      sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	dropped atomic.Int64
}

// NewHub создаёт hub. allowedOrigins пустой или "*" разрешает все источники.
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:     logger.Named("ws-hub"),
		origins:    NewOriginChecker(allowedOrigins),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run - главный цикл hub. Завершается после Stop.
//
// Список клиентов копируется под коротким RLock, отправка идёт без
// блокировки, медленные клиенты удаляются под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", zap.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", zap.Int("clients", total))

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				h.logger.Warn("removed slow clients", zap.Int("removed", len(toRemove)), zap.Int("clients", total))
			}
		}
	}
}

// Stop завершает Run и закрывает всех клиентов. Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast сериализует сообщение и ставит его в очередь
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("marshal broadcast message", zap.Error(err))
		return
	}
	data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})

	// буфер вернётся в пул, данные копируются
	msg := make([]byte, len(data))
	copy(msg, data)
	h.BroadcastRaw(msg)
}

// BroadcastRaw ставит в очередь уже сериализованное сообщение
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case <-h.stop:
		return
	default:
	}
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastNotification отправляет уведомление оператору
func (h *Hub) BroadcastNotification(n *models.Notification) {
	h.Broadcast(NewNotificationMessage(n))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages - сообщения, отброшенные из-за полной очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}

// Relay пересылает события шины клиентам до отмены ctx.
// Без списка тем пересылаются все, кроме ticker и fill.
func (h *Hub) Relay(ctx context.Context, sub eventbus.Subscriber, topics ...eventbus.Topic) error {
	if len(topics) == 0 {
		topics = DefaultRelayTopics()
	}

	var wg sync.WaitGroup
	for _, topic := range topics {
		ch, err := sub.Subscribe(ctx, topic)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(ch <-chan eventbus.Message) {
			defer wg.Done()
			for msg := range ch {
				out, err := NewEventMessage(msg)
				if err != nil {
					h.logger.Debug("skip undecodable event", utils.Topic(string(msg.Topic)), zap.Error(err))
					continue
				}
				h.Broadcast(out)
			}
		}(ch)
	}
	wg.Wait()
	return nil
}

// DefaultRelayTopics - темы, которые получает панель оператора
func DefaultRelayTopics() []eventbus.Topic {
	return []eventbus.Topic{
		eventbus.TopicExposureUpdate,
		eventbus.TopicPnLUpdate,
		eventbus.TopicOrderSubmitted,
		eventbus.TopicOrderFilled,
	}
}
