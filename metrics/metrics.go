// Package metrics holds the Prometheus collectors for ircfs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinesReceived counts protocol lines drained from the transport,
	// labelled by whether they parsed.
	LinesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ircfs_lines_received_total",
			Help: "Protocol lines received, by parse result",
		},
		[]string{"result"},
	)

	// EventsApplied counts events folded into the conversation store.
	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ircfs_events_applied_total",
			Help: "Protocol events applied to the conversation store, by command",
		},
		[]string{"command"},
	)

	// CommandsSent counts outbound protocol commands written to the transport.
	CommandsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ircfs_commands_sent_total",
			Help: "Outbound protocol commands written, by command",
		},
		[]string{"command"},
	)

	// CommandsDropped counts outbound commands discarded because the
	// outbox was full.
	CommandsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ircfs_commands_dropped_total",
			Help: "Outbound protocol commands dropped on a full outbox, by command",
		},
		[]string{"command"},
	)

	// Connects counts transport (re)connection attempts, by outcome.
	Connects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ircfs_connect_attempts_total",
			Help: "Transport connection attempts, by outcome",
		},
		[]string{"result"},
	)

	// Connected is 1 while the session holds an open transport.
	Connected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ircfs_connected",
		Help: "Whether the protocol session is connected (1) or not (0)",
	})

	// FSOps counts filesystem requests, by operation and errno.
	FSOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ircfs_fs_ops_total",
			Help: "Filesystem requests served, by operation and result",
		},
		[]string{"op", "result"},
	)

	// Channels and Conversations track store cardinality.
	Channels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ircfs_channels",
		Help: "Channels currently held in the conversation store",
	})
	Conversations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ircfs_conversations",
		Help: "Private conversations held in the conversation store",
	})
)
