package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"riskgate/internal/config"
	"riskgate/internal/eventbus"
	"riskgate/internal/models"
	"riskgate/pkg/retry"
	"riskgate/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// defaultJournalSize - сколько последних оповещений хранится в памяти
	defaultJournalSize = 100
	maxJournalLimit    = 500

	webhookTimeout = 5 * time.Second
)

// AlertService следит за pnl_update и оповещает оператора.
//
// Условия:
// - kill switch включился (переход из выключенного состояния)
// - дневной PnL опустился до -PnLThreshold (порог 0 отключает проверку)
//
// Каждое условие срабатывает один раз до возврата в норму, а не на каждое
// событие. Оповещение уходит в WebSocket hub, журнал последних оповещений
// и, если задан ALERT_WEBHOOK_URL, в webhook ({"text": ...}).
// При ALERT_ENABLE=false события только логируются.
type AlertService struct {
	cfg    config.AlertConfig
	bus    eventbus.Subscriber
	logger *zap.Logger
	client *http.Client
	retry  retry.Config
	clock  func() time.Time

	wsHub WebSocketBroadcaster

	mu          sync.Mutex
	killSwitch  bool
	pnlBreached bool
	journal     []*models.Notification
	journalSize int
}

// NewAlertService создаёт сервис оповещений
func NewAlertService(cfg config.AlertConfig, bus eventbus.Subscriber, logger *zap.Logger) *AlertService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PnLThreshold < 0 {
		cfg.PnLThreshold = -cfg.PnLThreshold
	}
	rc := retry.DefaultConfig()
	rc.MaxRetries = 3
	rc.InitialDelay = 200 * time.Millisecond
	rc.MaxDelay = 2 * time.Second

	return &AlertService{
		cfg:         cfg,
		bus:         bus,
		logger:      logger.Named("alert-service"),
		client:      &http.Client{Timeout: webhookTimeout},
		retry:       rc,
		clock:       time.Now,
		journalSize: defaultJournalSize,
	}
}

// SetWebSocketHub устанавливает hub для доставки оповещений в панель.
//
//	alerts := service.NewAlertService(cfg.Alert, bus, logger)
//	alerts.SetWebSocketHub(wsHub)
func (s *AlertService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// Run обрабатывает pnl_update до отмены ctx или закрытия шины
func (s *AlertService) Run(ctx context.Context) error {
	ch, err := s.bus.Subscribe(ctx, eventbus.TopicPnLUpdate)
	if err != nil {
		return fmt.Errorf("alert service: subscribe: %w", err)
	}
	s.logger.Info("alert service started",
		zap.Bool("enabled", s.cfg.Enabled),
		zap.Float64("pnl_threshold", s.cfg.PnLThreshold),
		zap.Bool("webhook", s.cfg.WebhookURL != ""),
	)

	for msg := range ch {
		var ev eventbus.PnLUpdate
		if err := msg.Decode(&ev); err != nil {
			s.logger.Debug("malformed pnl_update", zap.Error(err))
			continue
		}
		if !s.cfg.Enabled {
			s.logger.Info("pnl update", zap.Bool("kill_switch", ev.KillSwitch), utils.PNL(ev.DailyPnL))
			continue
		}
		if n := s.Evaluate(ev); n != nil {
			s.Dispatch(ctx, n)
		}
	}
	return nil
}

// Evaluate проверяет событие и возвращает оповещение или nil.
// Обновляет состояние срабатывания условий.
func (s *AlertService) Evaluate(ev eventbus.PnLUpdate) *models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := map[string]interface{}{"daily_pnl": ev.DailyPnL}
	breached := s.cfg.PnLThreshold > 0 && -ev.DailyPnL >= s.cfg.PnLThreshold

	wasKilled := s.killSwitch
	s.killSwitch = ev.KillSwitch
	if !breached {
		s.pnlBreached = false
	}

	if ev.KillSwitch && !wasKilled {
		// kill switch покрывает и порог PnL
		s.pnlBreached = breached
		return &models.Notification{
			Timestamp: s.clock(),
			Type:      models.NotificationTypeKillSwitch,
			Severity:  models.SeverityError,
			Message:   fmt.Sprintf("Kill switch engaged! Daily PnL: %.2f", ev.DailyPnL),
			Meta:      meta,
		}
	}

	if breached && !s.pnlBreached {
		s.pnlBreached = true
		meta["threshold"] = s.cfg.PnLThreshold
		return &models.Notification{
			Timestamp: s.clock(),
			Type:      models.NotificationTypePnLThreshold,
			Severity:  models.SeverityWarn,
			Message:   fmt.Sprintf("PnL alert: Daily PnL = %.2f (threshold %.2f)", ev.DailyPnL, s.cfg.PnLThreshold),
			Meta:      meta,
		}
	}
	return nil
}

// Dispatch доставляет оповещение: журнал, hub, webhook
func (s *AlertService) Dispatch(ctx context.Context, n *models.Notification) {
	s.record(n)
	s.logger.Warn("ALERT", zap.String("type", n.Type), zap.String("message", n.Message))
	AlertsSent.WithLabelValues(n.Type, "log").Inc()

	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(n)
		AlertsSent.WithLabelValues(n.Type, "hub").Inc()
	}

	if s.cfg.WebhookURL == "" {
		return
	}
	if err := s.sendWebhook(ctx, n); err != nil {
		AlertFailures.Inc()
		s.logger.Error("alert webhook failed", zap.Error(err), zap.Int("attempts", retry.Attempts(err)))
		return
	}
	AlertsSent.WithLabelValues(n.Type, "webhook").Inc()
}

// webhookPayload совместим с входящими webhook Slack и Teams
type webhookPayload struct {
	Text     string `json:"text"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
}

func (s *AlertService) sendWebhook(ctx context.Context, n *models.Notification) error {
	body, err := json.Marshal(webhookPayload{Text: n.Message, Type: n.Type, Severity: n.Severity})
	if err != nil {
		return err
	}

	return retry.Do(ctx, func(ctx context.Context, _ int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		default:
			return retry.Permanent(fmt.Errorf("webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
		}
	}, s.retry)
}

func (s *AlertService) record(n *models.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.journal = append(s.journal, n)
	if over := len(s.journal) - s.journalSize; over > 0 {
		s.journal = append([]*models.Notification(nil), s.journal[over:]...)
	}
}

// GetNotifications возвращает последние оповещения (новые сверху).
//
// types фильтрует по типу (регистр не важен), пустой список - все типы.
// limit по умолчанию 100, максимум 500.
func (s *AlertService) GetNotifications(types []string, limit int) []*models.Notification {
	if limit <= 0 {
		limit = defaultJournalSize
	}
	if limit > maxJournalLimit {
		limit = maxJournalLimit
	}

	filter := make(map[string]bool, len(types))
	for _, t := range types {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			filter[t] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Notification, 0, limit)
	for i := len(s.journal) - 1; i >= 0 && len(out) < limit; i-- {
		n := s.journal[i]
		if len(filter) > 0 && !filter[n.Type] {
			continue
		}
		out = append(out, n)
	}
	return out
}

// ClearNotifications очищает журнал оповещений
func (s *AlertService) ClearNotifications() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = nil
}
