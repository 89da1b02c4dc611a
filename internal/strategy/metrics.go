package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Signals - сигналы стратегий по стороне
var Signals = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "strategy",
		Name:      "signals_total",
		Help:      "Trading signals emitted by strategies",
	},
	[]string{"strategy", "side"},
)

// SubmitErrors - намерения, не принятые конвейером (очередь полна, валидация)
var SubmitErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "strategy",
		Name:      "submit_errors_total",
		Help:      "Strategy intents rejected by the execution pipeline queue",
	},
	[]string{"strategy"},
)
