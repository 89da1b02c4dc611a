package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Очередь ============

// QueueDepth - заявки, ожидающие обработки
var QueueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskgate",
		Subsystem: "execution",
		Name:      "queue_depth",
		Help:      "Number of order intents waiting in the execution queue",
	},
)

// IntentsDropped - заявки, не принятые в очередь (full / closed / invalid)
var IntentsDropped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "execution",
		Name:      "intents_dropped_total",
		Help:      "Order intents refused at submit",
	},
	[]string{"reason"},
)

// ============ Исполнение ============

// OrdersProcessed - результат обработки заявки
// outcome: rejected, filled, accepted, failed, error
var OrdersProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "execution",
		Name:      "orders_total",
		Help:      "Processed order intents by outcome",
	},
	[]string{"outcome"},
)

// SubmitLatency - время отправки в транспорт, включая повторы
var SubmitLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "riskgate",
		Subsystem: "execution",
		Name:      "submit_latency_ms",
		Help:      "Transport submission latency including retries in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	},
	[]string{"transport"},
)

// TransportRetries - повторные попытки отправки
var TransportRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "execution",
		Name:      "transport_retries_total",
		Help:      "Retried transport submissions",
	},
	[]string{"transport"},
)

// FillsHandled - уведомления об исполнении
var FillsHandled = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "execution",
		Name:      "fills_total",
		Help:      "Fill notifications by result",
	},
	[]string{"result"},
)
