package heartbeat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// heartbeatsTotal counts probe decisions by peer and result: sent,
// suppressed or failed.
var heartbeatsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "obadir",
		Subsystem: "heartbeat",
		Name:      "heartbeats_total",
		Help:      "Heartbeats by peer and result.",
	},
	[]string{"peer", "result"},
)
