package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FeedReconnects - переподключения источника цен
var FeedReconnects = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "feed",
		Name:      "reconnects_total",
		Help:      "Price feed reconnect attempts",
	},
	[]string{"feed"},
)

// FeedMessages - входящие сообщения по типу (ticker, ignored, malformed)
var FeedMessages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "feed",
		Name:      "messages_total",
		Help:      "Price feed messages by type",
	},
	[]string{"feed", "type"},
)
