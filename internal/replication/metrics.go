package replication

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "obadir",
		Subsystem: "replication",
		Name:      "messages_total",
		Help:      "Replication messages by direction, type and result.",
	},
	[]string{"direction", "type", "result"},
)
