package market

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TicksIngested - принятые тики по инструментам
var TicksIngested = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "market",
		Name:      "ticks_total",
		Help:      "Number of accepted price ticks",
	},
	[]string{"instrument"},
)

// TicksRejected - тики, не прошедшие проверку
var TicksRejected = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "market",
		Name:      "ticks_rejected_total",
		Help:      "Number of malformed price ticks",
	},
)
