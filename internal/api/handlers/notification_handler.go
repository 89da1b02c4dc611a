package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"riskgate/internal/models"
)

// NotificationSource - журнал оповещений
type NotificationSource interface {
	GetNotifications(types []string, limit int) []*models.Notification
	ClearNotifications()
}

// NotificationHandler отвечает за журнал оповещений
//
// Endpoints:
// - GET /api/v1/notifications - последние оповещения
// - GET /api/v1/notifications?types=kill_switch,pnl_threshold - с фильтрацией по типам
// - GET /api/v1/notifications?limit=50 - с ограничением количества
// - DELETE /api/v1/notifications - очистка журнала
type NotificationHandler struct {
	notifications NotificationSource
}

// NewNotificationHandler создает NotificationHandler
func NewNotificationHandler(notifications NotificationSource) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// GetNotificationsResponse представляет ответ списка уведомлений
type GetNotificationsResponse struct {
	Notifications []NotificationDTO `json:"notifications"`
	Total         int               `json:"total"`
}

// NotificationDTO представляет уведомление в API
type NotificationDTO struct {
	Timestamp string                 `json:"timestamp"`
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// GetNotifications возвращает список уведомлений с фильтрацией
//
// GET /api/v1/notifications
//
// Query параметры:
// - types (string): типы через запятую (kill_switch, pnl_threshold)
// - limit (int): количество записей (по умолчанию 100, максимум 500)
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	var types []string
	if typesParam := r.URL.Query().Get("types"); typesParam != "" {
		for _, part := range strings.Split(typesParam, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				types = append(types, strings.ToUpper(trimmed))
			}
		}
	}

	limit := 100
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid limit", limitParam)
			return
		}
		limit = parsed
	}

	notifications := h.notifications.GetNotifications(types, limit)
	dtos := make([]NotificationDTO, 0, len(notifications))
	for _, n := range notifications {
		dtos = append(dtos, NotificationDTO{
			Timestamp: n.Timestamp.UTC().Format(time.RFC3339),
			Type:      n.Type,
			Severity:  n.Severity,
			Message:   n.Message,
			Meta:      n.Meta,
		})
	}

	respondJSON(w, http.StatusOK, GetNotificationsResponse{Notifications: dtos, Total: len(dtos)})
}

// ClearNotifications очищает журнал уведомлений
//
// DELETE /api/v1/notifications
func (h *NotificationHandler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	h.notifications.ClearNotifications()
	respondJSON(w, http.StatusOK, SuccessResponse{Message: "Notifications cleared successfully"})
}
