package models

import "time"

// Notification представляет оповещение оператору
type Notification struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`     // KILL_SWITCH, PNL_THRESHOLD
	Severity  string                 `json:"severity"` // info, warn, error
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// Типы уведомлений
const (
	NotificationTypeKillSwitch   = "KILL_SWITCH"   // kill switch сработал
	NotificationTypePnLThreshold = "PNL_THRESHOLD" // дневной PnL ниже порога
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
