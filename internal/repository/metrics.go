package repository

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Метрики хранилища состояния ============

// StoreFailures - ошибки асинхронной записи по операциям
var StoreFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "store",
		Name:      "write_failures_total",
		Help:      "Number of failed state store writes",
	},
	[]string{"op"},
)

// StoreDropped - записи, отброшенные из-за переполнения очереди
var StoreDropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "store",
		Name:      "dropped_writes_total",
		Help:      "Number of state store writes dropped because the queue was full",
	},
)

// StoreQueueDepth - текущая длина очереди записи
var StoreQueueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskgate",
		Subsystem: "store",
		Name:      "queue_depth",
		Help:      "Current number of pending state store writes",
	},
)
