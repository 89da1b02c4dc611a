package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Состояние риска (из событий шины) ============

// Exposure - экспозиция по инструменту в валюте котировки
var Exposure = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "riskgate",
		Subsystem: "state",
		Name:      "exposure",
		Help:      "Exposure per instrument in quote currency",
	},
	[]string{"instrument"},
)

// OpenOrders - число открытых ордеров
var OpenOrders = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskgate",
		Subsystem: "state",
		Name:      "open_orders",
		Help:      "Current number of open orders",
	},
)

// KillSwitch - 1 если kill switch включён
var KillSwitch = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskgate",
		Subsystem: "state",
		Name:      "kill_switch",
		Help:      "Kill switch status (1=on, 0=off)",
	},
)

// DailyPnL - реализованный PnL за торговый день
var DailyPnL = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskgate",
		Subsystem: "state",
		Name:      "daily_pnl",
		Help:      "Realized PnL for the current trading day",
	},
)

// ============ Оповещения ============

// AlertsSent - отправленные оповещения по типу и каналу (hub, webhook, log)
var AlertsSent = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Alerts dispatched by type and channel",
	},
	[]string{"type", "channel"},
)

// AlertFailures - неудачные отправки webhook
var AlertFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "alert",
		Name:      "webhook_failures_total",
		Help:      "Failed alert webhook deliveries",
	},
)
