// Package metrics provides Prometheus metrics for the voice agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_consult"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	SessionsTotal  prometheus.Counter
	SessionsActive prometheus.Gauge

	TurnsTotal     prometheus.Counter
	BargeInsTotal  prometheus.Counter
	TasksCompleted prometheus.Counter

	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter
	EchoDropped        prometheus.Counter
	StaleEventsDropped prometheus.Counter

	AudioChunksSent prometheus.Counter
	AudioBytesSent  prometheus.Counter

	RetrievalsTotal    prometheus.Counter
	CollaboratorErrors *prometheus.CounterVec
}

// Default is the global metrics instance, registered on the default
// Prometheus registry.
var Default = New(prometheus.DefaultRegisterer)

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_total",
			Help: "Total number of voice sessions started",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active",
			Help: "Number of currently connected sessions",
		}),
		TurnsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "turns_total",
			Help: "Total number of completed conversation turns",
		}),
		BargeInsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "barge_ins_total",
			Help: "Total number of user interruptions during agent speech",
		}),
		TasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_completed_total",
			Help: "Total number of consultation tasks marked complete",
		}),
		TranscriptsPartial: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "transcripts_partial_total",
			Help: "Total number of partial transcripts forwarded to clients",
		}),
		TranscriptsFinal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "transcripts_final_total",
			Help: "Total number of finalized user utterances",
		}),
		EchoDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "echo_dropped_total",
			Help: "Total number of transcripts dropped as agent-speech echo",
		}),
		StaleEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stale_events_dropped_total",
			Help: "Total number of events dropped by the generation staleness check",
		}),
		AudioChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "audio_chunks_sent_total",
			Help: "Total number of synthesized audio chunks forwarded to clients",
		}),
		AudioBytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "audio_bytes_sent_total",
			Help: "Total synthesized audio payload bytes forwarded to clients",
		}),
		RetrievalsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retrievals_total",
			Help: "Total number of product retrieval queries",
		}),
		CollaboratorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "collaborator_errors_total",
			Help: "Total collaborator failures by collaborator name",
		}, []string{"collaborator"}),
	}
}
