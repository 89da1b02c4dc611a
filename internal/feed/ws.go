package feed

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WSConfig конфигурация websocket источника
type WSConfig struct {
	URL      string
	Products []string
	Channels []string

	// Начальная задержка перед переподключением
	InitialDelay time.Duration
	// Максимальная задержка (после exponential backoff)
	MaxDelay time.Duration
	// Максимальное количество попыток подряд (0 = бесконечно)
	MaxRetries int
	// Таймаут подключения
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения
	PingInterval time.Duration
	// Таймаут ожидания pong
	PongTimeout time.Duration
}

// DefaultWSConfig возвращает конфигурацию по умолчанию: 1s, 2s, 4s ... 60s
func DefaultWSConfig() WSConfig {
	return WSConfig{
		Channels:       []string{"ticker", "heartbeat"},
		InitialDelay:   1 * time.Second,
		MaxDelay:       60 * time.Second,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
	}
}

// ConnState состояние websocket соединения
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// subscribeMessage отправляется сразу после подключения
type subscribeMessage struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// tickerMessage - сообщение канала ticker. Цена приходит строкой или числом.
type tickerMessage struct {
	Type      string    `json:"type"`
	ProductID string    `json:"product_id"`
	Price     flexFloat `json:"price"`
	Time      string    `json:"time"`
}

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// WSFeed подписывается на ticker канал и переподключается с
// exponential backoff и jitter. Подписка повторяется после каждого подключения.
type WSFeed struct {
	cfg    WSConfig
	logger *zap.Logger
	dialer websocket.Dialer

	state       int32 // atomic ConnState
	connects    int64 // atomic
	retryCount  int32 // atomic
	lastMessage int64 // atomic, unix nano
}

// NewWSFeed создаёт websocket источник
func NewWSFeed(cfg WSConfig, logger *zap.Logger) *WSFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultWSConfig()
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = def.Channels
	}

	return &WSFeed{
		cfg:    cfg,
		logger: logger.Named("feed-ws"),
		dialer: websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
	}
}

func (f *WSFeed) Name() string { return KindWS }

// State возвращает текущее состояние соединения
func (f *WSFeed) State() ConnState {
	return ConnState(atomic.LoadInt32(&f.state))
}

// Connects возвращает число успешных подключений
func (f *WSFeed) Connects() int64 {
	return atomic.LoadInt64(&f.connects)
}

// LastMessage - время последнего сообщения (нулевое, если не было)
func (f *WSFeed) LastMessage() time.Time {
	ns := atomic.LoadInt64(&f.lastMessage)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run держит соединение до отмены ctx. Возвращает ошибку, только если
// исчерпан MaxRetries.
func (f *WSFeed) Run(ctx context.Context, sink Sink) error {
	defer atomic.StoreInt32(&f.state, int32(StateClosed))

	delay := f.cfg.InitialDelay
	for {
		atomic.StoreInt32(&f.state, int32(StateConnecting))
		err := f.session(ctx, sink)
		if ctx.Err() != nil {
			return nil
		}

		if atomic.LoadInt32(&f.retryCount) == 0 {
			// соединение было установлено: backoff начинается заново
			delay = f.cfg.InitialDelay
		}
		retry := atomic.AddInt32(&f.retryCount, 1)
		if f.cfg.MaxRetries > 0 && int(retry) > f.cfg.MaxRetries {
			atomic.StoreInt32(&f.state, int32(StateDisconnected))
			return fmt.Errorf("ws feed: max reconnect attempts (%d) reached: %w", f.cfg.MaxRetries, err)
		}

		atomic.StoreInt32(&f.state, int32(StateReconnecting))
		wait := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
		FeedReconnects.WithLabelValues(KindWS).Inc()
		f.logger.Warn("price feed disconnected, reconnecting",
			zap.Error(err),
			zap.Duration("delay", wait),
			utils.Attempt(int(retry)),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		delay *= 2
		if delay > f.cfg.MaxDelay {
			delay = f.cfg.MaxDelay
		}
	}
}

// session - одно соединение: dial, подписка, чтение до ошибки
func (f *WSFeed) session(ctx context.Context, sink Sink) error {
	dialCtx, cancel := context.WithTimeout(ctx, f.cfg.ConnectTimeout)
	conn, _, err := f.dialer.DialContext(dialCtx, f.cfg.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sub := subscribeMessage{Type: "subscribe", ProductIDs: f.cfg.Products, Channels: f.cfg.Channels}
	conn.SetWriteDeadline(time.Now().Add(f.cfg.PongTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	atomic.StoreInt32(&f.state, int32(StateConnected))
	atomic.StoreInt32(&f.retryCount, 0)
	atomic.AddInt64(&f.connects, 1)
	f.logger.Info("price feed connected", zap.String("url", f.cfg.URL), zap.Strings("products", f.cfg.Products))

	readTimeout := f.cfg.PingInterval + f.cfg.PongTimeout
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go f.pingPump(ctx, conn, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		atomic.StoreInt64(&f.lastMessage, time.Now().UnixNano())
		f.handleMessage(ctx, data, sink)
	}
}

// pingPump шлёт ping и закрывает соединение при отмене ctx, чтобы прервать ReadMessage
func (f *WSFeed) pingPump(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(f.cfg.PongTimeout)); err != nil {
				f.logger.Debug("ping failed", zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}

func (f *WSFeed) handleMessage(ctx context.Context, data []byte, sink Sink) {
	var msg tickerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		FeedMessages.WithLabelValues(KindWS, "malformed").Inc()
		f.logger.Debug("malformed feed message", zap.Error(err))
		return
	}
	if msg.Type != "ticker" {
		FeedMessages.WithLabelValues(KindWS, "ignored").Inc()
		return
	}
	FeedMessages.WithLabelValues(KindWS, "ticker").Inc()

	tick := models.PriceTick{Instrument: msg.ProductID, Price: float64(msg.Price)}
	if msg.Time != "" {
		if ts, err := time.Parse(time.RFC3339Nano, msg.Time); err == nil {
			tick.Timestamp = ts
		}
	}
	if err := sink(ctx, tick); err != nil {
		f.logger.Warn("tick rejected", utils.Instrument(msg.ProductID), zap.Error(err))
	}
}
