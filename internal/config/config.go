package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Security   SecurityConfig
	Risk       RiskConfig
	Volatility VolatilityConfig
	Execution  ExecutionConfig
	EventBus   EventBusConfig
	Feed       FeedConfig
	Strategy   StrategyConfig
	Alert      AlertConfig
	Logging    LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port           int
	Host           string
	AllowedOrigins []string
	ShutdownGrace  time.Duration
}

// StoreConfig - настройки StateStore (зеркало экспозиции/позиций/PnL)
type StoreConfig struct {
	Kind      string // none | sql | file
	URI       string // postgres://... или sqlite://path
	Path      string // путь JSON снимка для file
	QueueSize int    // размер очереди асинхронной записи
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	APITokenHash  string // bcrypt хеш bearer токена для /api/v1
	EncryptionKey string // 32 байта, расшифровка LIVE_API_SECRET с префиксом enc:
}

// RiskConfig - лимиты pre-trade проверок. Ноль отключает правило.
type RiskConfig struct {
	MaxOrderNotional   float64
	MaxOrdersPerMinute int
	MaxOpenOrders      int
	PriceBandPct       float64
	SlippagePct        float64
	DailyMaxLoss       float64
	AllowedMarkets     []string
	Timezone           string
}

// VolatilityConfig - параметры оценки волатильности
type VolatilityConfig struct {
	Window     int
	Multiplier float64
	Method     string
	ATRWindow  int
	Alpha      float64
}

// ExecutionConfig - параметры конвейера исполнения
type ExecutionConfig struct {
	PaperTrading   bool
	SettleOnSubmit bool
	QueueSize      int
	MaxRetries     int
	RetryDelay     time.Duration
	MaxRetryDelay  time.Duration
	Timeout        time.Duration
	PaperLatency   time.Duration

	LiveAPIURL    string
	LiveAPIKey    string
	LiveAPISecret string
	LiveRateLimit float64
}

// EventBusConfig - выбор и настройки шины событий
type EventBusConfig struct {
	Backend       string // memory | redis | kafka
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
	KafkaBrokers  []string
	TopicPrefix   string
	EventLogPath  string // JSONL журнал событий, пусто = выключен
	OutboxSize    int
}

// FeedConfig - источник рыночных цен
type FeedConfig struct {
	Kind          string // sim | ws | csv | none
	URL           string
	File          string
	SimInterval   time.Duration
	SimVolatility float64
	SimSeed       int64
	StartPrices   map[string]float64
}

// StrategyConfig - стратегии, запускаемые при старте
type StrategyConfig struct {
	Names     []string
	File      string
	SMAWindow int
	Size      float64
}

// AlertConfig - оповещения о PnL и kill switch
type AlertConfig struct {
	Enabled      bool
	PnLThreshold float64
	WebhookURL   string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Development bool
	OutputPath  string
}

// Допустимые методы оценки волатильности
var validVolatilityMethods = map[string]bool{
	"std":   true,
	"ewma":  true,
	"atr":   true,
	"garch": true,
}

// Load загружает конфигурацию из переменных окружения.
// Если рядом лежит .env (или путь из ENV_FILE), значения из него
// подставляются для ещё не заданных переменных.
func Load() (*Config, error) {
	if err := loadDotEnv(getEnv("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	paper := getEnvAsBool("PAPER_TRADING", true) || getEnvAsBool("DRY_RUN", false)

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", nil),
			ShutdownGrace:  getEnvAsDuration("SHUTDOWN_GRACE", 30*time.Second),
		},
		Store: StoreConfig{
			Kind:      strings.ToLower(getEnv("STATE_STORE", "none")),
			URI:       getEnv("STATE_STORE_URI", ""),
			Path:      getEnv("STATE_STORE_PATH", "state.json"),
			QueueSize: getEnvAsInt("STATE_STORE_QUEUE", 256),
		},
		Security: SecurityConfig{
			APITokenHash:  getEnv("API_TOKEN_HASH", ""),
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Risk: RiskConfig{
			MaxOrderNotional:   getEnvAsFloat("MAX_ORDER_NOTIONAL", 1000),
			MaxOrdersPerMinute: getEnvAsInt("MAX_ORDERS_PER_MINUTE", 30),
			MaxOpenOrders:      getEnvAsInt("MAX_OPEN_ORDERS", 50),
			PriceBandPct:       getEnvAsFloat("PRICE_BAND_PCT", 2.5),
			SlippagePct:        getEnvAsFloat("SLIPPAGE_PCT", 0),
			DailyMaxLoss:       getEnvAsFloat("DAILY_MAX_LOSS", 10000),
			AllowedMarkets:     getEnvAsList("ALLOWED_MARKETS", []string{"BTC-USD", "ETH-USD", "SOL-USD"}),
			Timezone:           getEnv("RISK_TIMEZONE", "UTC"),
		},
		Volatility: VolatilityConfig{
			Window:     getEnvAsInt("VOLATILITY_WINDOW", 0),
			Multiplier: getEnvAsFloat("VOLATILITY_MULT", 0),
			Method:     strings.ToLower(getEnv("VOLATILITY_METHOD", "std")),
			ATRWindow:  getEnvAsInt("ATR_WINDOW", 0),
			Alpha:      getEnvAsFloat("VOLATILITY_ALPHA", 0.94),
		},
		Execution: ExecutionConfig{
			PaperTrading:   paper,
			SettleOnSubmit: getEnvAsBool("SETTLE_ON_SUBMIT", false),
			QueueSize:      getEnvAsInt("EXECUTION_QUEUE_SIZE", 1000),
			MaxRetries:     getEnvAsInt("EXECUTION_MAX_RETRIES", 3),
			RetryDelay:     getEnvAsDuration("EXECUTION_RETRY_DELAY", 500*time.Millisecond),
			MaxRetryDelay:  getEnvAsDuration("EXECUTION_MAX_RETRY_DELAY", 5*time.Second),
			Timeout:        getEnvAsDuration("EXECUTION_TIMEOUT", 10*time.Second),
			PaperLatency:   getEnvAsDuration("PAPER_LATENCY", 0),
			LiveAPIURL:     getEnv("LIVE_API_URL", ""),
			LiveAPIKey:     getEnv("LIVE_API_KEY", ""),
			LiveAPISecret:  getEnv("LIVE_API_SECRET", ""),
			LiveRateLimit:  getEnvAsFloat("LIVE_RATE_LIMIT", 10),
		},
		EventBus: EventBusConfig{
			Backend:       strings.ToLower(getEnv("EVENT_BUS", "memory")),
			RedisHost:     getEnv("REDIS_HOST", "localhost"),
			RedisPort:     getEnvAsInt("REDIS_PORT", 6379),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			KafkaBrokers:  getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicPrefix:   getEnv("EVENT_TOPIC_PREFIX", "riskgate."),
			EventLogPath:  getEnv("EVENT_STORE_PATH", ""),
			OutboxSize:    getEnvAsInt("EVENT_OUTBOX_SIZE", 1024),
		},
		Feed: FeedConfig{
			Kind:          strings.ToLower(getEnv("PRICE_FEED", "sim")),
			URL:           getEnv("PRICE_FEED_URL", ""),
			File:          getEnv("PRICE_FEED_FILE", ""),
			SimInterval:   getEnvAsDuration("SIM_FEED_INTERVAL", time.Second),
			SimVolatility: getEnvAsFloat("SIM_FEED_VOLATILITY", 0.001),
			SimSeed:       int64(getEnvAsInt("SIM_FEED_SEED", 1)),
			StartPrices:   getEnvAsPriceMap("SIM_START_PRICES"),
		},
		Strategy: StrategyConfig{
			Names:     getEnvAsList("STRATEGIES", nil),
			File:      getEnv("STRATEGIES_FILE", ""),
			SMAWindow: getEnvAsInt("SMA_WINDOW", 20),
			Size:      getEnvAsFloat("STRATEGY_SIZE", 0.001),
		},
		Alert: AlertConfig{
			Enabled:      getEnvAsBool("ALERT_ENABLE", false),
			PnLThreshold: getEnvAsFloat("ALERT_PNL_THRESHOLD", 0),
			WebhookURL:   getEnv("ALERT_WEBHOOK_URL", ""),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
			OutputPath:  getEnv("LOG_OUTPUT", ""),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	if c.Security.EncryptionKey != "" && len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	// Зашифрованный секрет без ключа расшифровать нельзя
	if strings.HasPrefix(c.Execution.LiveAPISecret, EncryptedPrefix) && c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required to decrypt LIVE_API_SECRET")
	}

	if !c.Execution.PaperTrading {
		if c.Execution.LiveAPIURL == "" {
			return fmt.Errorf("LIVE_API_URL is required when PAPER_TRADING is disabled")
		}
		if c.Execution.LiveAPIKey == "" || c.Execution.LiveAPISecret == "" {
			return fmt.Errorf("LIVE_API_KEY and LIVE_API_SECRET are required when PAPER_TRADING is disabled")
		}
	}

	if c.Security.APITokenHash != "" && !strings.HasPrefix(c.Security.APITokenHash, "$2") {
		return fmt.Errorf("API_TOKEN_HASH must be a bcrypt hash")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.EventBus.RedisPort < 1 || c.EventBus.RedisPort > 65535 {
		return fmt.Errorf("REDIS_PORT must be between 1 and 65535, got %d", c.EventBus.RedisPort)
	}

	// Лимиты риска: ноль = правило выключено, отрицательные недопустимы
	if c.Risk.MaxOrderNotional < 0 {
		return fmt.Errorf("MAX_ORDER_NOTIONAL cannot be negative, got %v", c.Risk.MaxOrderNotional)
	}
	if c.Risk.MaxOrdersPerMinute < 0 {
		return fmt.Errorf("MAX_ORDERS_PER_MINUTE cannot be negative, got %d", c.Risk.MaxOrdersPerMinute)
	}
	if c.Risk.MaxOpenOrders < 0 {
		return fmt.Errorf("MAX_OPEN_ORDERS cannot be negative, got %d", c.Risk.MaxOpenOrders)
	}
	if c.Risk.PriceBandPct < 0 || c.Risk.SlippagePct < 0 {
		return fmt.Errorf("PRICE_BAND_PCT and SLIPPAGE_PCT cannot be negative")
	}
	if c.Risk.DailyMaxLoss < 0 {
		return fmt.Errorf("DAILY_MAX_LOSS cannot be negative, got %v", c.Risk.DailyMaxLoss)
	}
	if _, err := time.LoadLocation(c.Risk.Timezone); err != nil {
		return fmt.Errorf("RISK_TIMEZONE is invalid: %w", err)
	}

	// Волатильность
	if !validVolatilityMethods[c.Volatility.Method] {
		return fmt.Errorf("VOLATILITY_METHOD must be one of std, ewma, atr, garch, got %q", c.Volatility.Method)
	}
	if c.Volatility.Window < 0 || c.Volatility.ATRWindow < 0 {
		return fmt.Errorf("VOLATILITY_WINDOW and ATR_WINDOW cannot be negative")
	}
	if c.Volatility.Multiplier < 0 {
		return fmt.Errorf("VOLATILITY_MULT cannot be negative, got %v", c.Volatility.Multiplier)
	}
	if c.Volatility.Alpha <= 0 || c.Volatility.Alpha > 1 {
		return fmt.Errorf("VOLATILITY_ALPHA must be in (0, 1], got %v", c.Volatility.Alpha)
	}

	// Исполнение
	if c.Execution.QueueSize < 1 {
		return fmt.Errorf("EXECUTION_QUEUE_SIZE must be positive, got %d", c.Execution.QueueSize)
	}
	if c.Execution.MaxRetries < 0 || c.Execution.MaxRetries > 10 {
		return fmt.Errorf("EXECUTION_MAX_RETRIES must be between 0 and 10, got %d", c.Execution.MaxRetries)
	}
	if c.Execution.Timeout <= 0 {
		return fmt.Errorf("EXECUTION_TIMEOUT must be positive, got %v", c.Execution.Timeout)
	}

	switch c.EventBus.Backend {
	case "memory", "redis", "kafka":
	default:
		return fmt.Errorf("EVENT_BUS must be one of memory, redis, kafka, got %q", c.EventBus.Backend)
	}

	switch c.Store.Kind {
	case "none", "file":
	case "sql":
		if c.Store.URI == "" {
			return fmt.Errorf("STATE_STORE_URI is required for STATE_STORE=sql")
		}
	default:
		return fmt.Errorf("STATE_STORE must be one of none, sql, file, got %q", c.Store.Kind)
	}

	if c.Strategy.SMAWindow <= 0 {
		c.Strategy.SMAWindow = 1
	}

	return nil
}

// EncryptedPrefix помечает значения, зашифрованные AES-GCM (pkg/crypto)
const EncryptedPrefix = "enc:"

// Вспомогательные функции для чтения переменных окружения

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch valueStr {
	case "":
		return defaultValue
	case "yes", "y", "on":
		return true
	case "no", "n", "off":
		return false
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList разбирает список через запятую, пустые элементы отбрасываются
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvAsPriceMap разбирает "BTC-USD=60000,ETH-USD=3000"
func getEnvAsPriceMap(key string) map[string]float64 {
	out := make(map[string]float64)
	for _, item := range getEnvAsList(key, nil) {
		name, raw, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || price <= 0 {
			continue
		}
		out[strings.TrimSpace(name)] = price
	}
	return out
}
