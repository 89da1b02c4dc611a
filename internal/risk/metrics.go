package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Метрики pre-trade проверок ============

// Decisions - решения по правилам (rule="" для одобренных)
var Decisions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "risk",
		Name:      "decisions_total",
		Help:      "Pre-trade decisions by result and rule",
	},
	[]string{"result", "rule"}, // result: approved, rejected
)

// CheckLatency - время pre-trade проверки в миллисекундах
var CheckLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "riskgate",
		Subsystem: "risk",
		Name:      "check_latency_ms",
		Help:      "Pre-trade check latency in milliseconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	},
)

// KillSwitchTrips - срабатывания kill switch
var KillSwitchTrips = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "risk",
		Name:      "kill_switch_trips_total",
		Help:      "Number of kill switch activations",
	},
	[]string{"source"}, // loss, manual
)

// DailyResets - ежедневные сбросы состояния
var DailyResets = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "risk",
		Name:      "daily_resets_total",
		Help:      "Number of daily state resets",
	},
	[]string{"source"}, // schedule, manual
)

func observeDecision(d Decision) {
	if d.Approved {
		Decisions.WithLabelValues("approved", "").Inc()
		return
	}
	Decisions.WithLabelValues("rejected", string(d.Rule)).Inc()
}
