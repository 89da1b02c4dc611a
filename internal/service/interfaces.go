package service

import "riskgate/internal/models"

// WebSocketBroadcaster - отправка уведомлений в панель оператора.
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование.
type WebSocketBroadcaster interface {
	BroadcastNotification(n *models.Notification)
}
