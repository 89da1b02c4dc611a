package execution

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"riskgate/internal/config"
	"riskgate/pkg/crypto"
	"riskgate/pkg/retry"
)

// Заголовки запроса к площадке
const (
	HeaderAPIKey         = "X-RG-API-KEY"
	HeaderSignature      = "X-RG-SIGN"
	HeaderTimestamp      = "X-RG-TIMESTAMP"
	HeaderIdempotencyKey = "Idempotency-Key"

	ordersPath      = "/orders"
	maxResponseSize = 1 << 20
)

// HTTPClientConfig содержит настройки пула соединений к площадке
type HTTPClientConfig struct {
	ConnectTimeout        time.Duration // таймаут TCP соединения (default: 5s)
	ResponseHeaderTimeout time.Duration // ожидание заголовков ответа (default: 10s)
	TotalTimeout          time.Duration // общий таймаут запроса (default: 30s)

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	TLSHandshakeTimeout time.Duration
	KeepAliveInterval   time.Duration
}

// DefaultHTTPClientConfig возвращает конфигурацию по умолчанию
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:        5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		TotalTimeout:          30 * time.Second,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout: 5 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// NewHTTPClient создаёт http.Client с пулом Keep-Alive соединений
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: cfg.KeepAliveInterval,
	}

	transport := &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dialer.DialContext,

		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,

		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},

		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.TotalTimeout,
	}
}

// HTTPConfig - настройки HTTP транспорта
type HTTPConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string  // уже расшифрованный
	RateLimit float64 // запросов в секунду, 0 = без ограничения
	Client    HTTPClientConfig
}

// HTTPConfigFromEnv собирает HTTPConfig, расшифровывая LIVE_API_SECRET с префиксом enc:
func HTTPConfigFromEnv(cfg config.ExecutionConfig, sec config.SecurityConfig) (HTTPConfig, error) {
	secret, err := crypto.ResolveSecret(cfg.LiveAPISecret, sec.EncryptionKey)
	if err != nil {
		return HTTPConfig{}, fmt.Errorf("resolve LIVE_API_SECRET: %w", err)
	}

	client := DefaultHTTPClientConfig()
	if cfg.Timeout > 0 {
		client.ResponseHeaderTimeout = cfg.Timeout
	}

	return HTTPConfig{
		BaseURL:   cfg.LiveAPIURL,
		APIKey:    cfg.LiveAPIKey,
		APISecret: secret,
		RateLimit: cfg.LiveRateLimit,
		Client:    client,
	}, nil
}

// HTTPTransport отправляет ордера JSON POST запросом с HMAC подписью.
//
// Классификация ответов для pkg/retry:
// 429, 5xx и сетевые ошибки - временные, остальные 4xx - постоянные.
type HTTPTransport struct {
	baseURL string
	apiKey  string
	secret  string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

// NewHTTPTransport создаёт транспорт. BaseURL обязателен.
func NewHTTPTransport(cfg HTTPConfig, logger *zap.Logger) (*HTTPTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid LIVE_API_URL %q", cfg.BaseURL)
	}

	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
	}

	return &HTTPTransport{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		secret:  cfg.APISecret,
		client:  NewHTTPClient(cfg.Client),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("http-transport"),
		now:     time.Now,
	}, nil
}

func (t *HTTPTransport) Name() string { return "http" }

// CreateOrder отправляет ордер. Idempotency-Key = ClientOrderID, поэтому
// повтор той же заявки площадка не исполнит дважды.
func (t *HTTPTransport) CreateOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		err = fmt.Errorf("rate limiter: %w", err)
		// дедлайн попытки истекает раньше токена: следующая попытка может успеть
		if errors.Is(ctx.Err(), context.Canceled) {
			return OrderAck{}, retry.Permanent(err)
		}
		return OrderAck{}, retry.Temporary(err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return OrderAck{}, retry.Permanent(fmt.Errorf("encode order: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+ordersPath, bytes.NewReader(body))
	if err != nil {
		return OrderAck{}, retry.Permanent(fmt.Errorf("build request: %w", err))
	}

	ts := strconv.FormatInt(t.now().UnixMilli(), 10)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(HeaderIdempotencyKey, req.ClientOrderID)
	if t.apiKey != "" {
		httpReq.Header.Set(HeaderAPIKey, t.apiKey)
	}
	if t.secret != "" {
		httpReq.Header.Set(HeaderTimestamp, ts)
		httpReq.Header.Set(HeaderSignature, crypto.Sign(t.secret, ts, http.MethodPost, ordersPath, string(body)))
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return OrderAck{}, networkError(t.Name(), "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return OrderAck{}, networkError(t.Name(), "read response", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return OrderAck{}, retry.Temporary(&TransportError{
			Transport:  t.Name(),
			StatusCode: resp.StatusCode,
			Message:    truncate(string(raw)),
		})
	}
	if resp.StatusCode >= 400 {
		return OrderAck{}, retry.Permanent(&TransportError{
			Transport:  t.Name(),
			StatusCode: resp.StatusCode,
			Message:    truncate(string(raw)),
		})
	}

	var ack OrderAck
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &ack); err != nil {
			return OrderAck{}, retry.Permanent(&TransportError{
				Transport:  t.Name(),
				StatusCode: resp.StatusCode,
				Message:    "decode response",
				Original:   err,
			})
		}
	}
	if ack.ClientOrderID == "" {
		ack.ClientOrderID = req.ClientOrderID
	}
	if ack.Status == "" {
		ack.Status = AckAccepted
	}

	t.logger.Debug("order sent",
		zap.String("client_order_id", req.ClientOrderID),
		zap.String("exchange_order_id", ack.ExchangeOrderID),
		zap.String("status", string(ack.Status)),
	)
	return ack, nil
}

// Close закрывает idle соединения
func (t *HTTPTransport) Close() {
	t.client.CloseIdleConnections()
}

// IsPermanent - ошибка площадки, которую бессмысленно повторять
func IsPermanent(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && !retry.IsRetryable(err)
}

// networkError: отмена контекста не повторяется, остальные сетевые ошибки - повторяются
func networkError(transport, msg string, err error) error {
	te := &TransportError{Transport: transport, Message: msg, Original: err}
	if errors.Is(err, context.Canceled) {
		return te
	}
	return retry.Temporary(te)
}

func truncate(s string) string {
	const max = 256
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
