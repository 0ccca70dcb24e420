// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bot's collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	commands   *prometheus.CounterVec
	events     *prometheus.CounterVec
	renames    *prometheus.CounterVec
	enrichment *prometheus.CounterVec
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threadkeeper",
			Name:      "commands_total",
			Help:      "Slash commands handled, by command and outcome.",
		}, []string{"command", "outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threadkeeper",
			Name:      "thread_events_total",
			Help:      "Thread gateway events received, by event type.",
		}, []string{"event"}),
		renames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threadkeeper",
			Name:      "thread_renames_total",
			Help:      "Status glyph rewrites, by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		enrichment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threadkeeper",
			Name:      "list_enrichment_failures_total",
			Help:      "History lookups that fell back to placeholders while listing threads.",
		}, []string{"field"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.commands,
		m.events,
		m.renames,
		m.enrichment,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Command(command, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, outcome).Inc()
}

func (m *Metrics) Event(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event).Inc()
}

// Rename counts a glyph rewrite. outcome is "renamed", "unchanged" or "failed".
func (m *Metrics) Rename(trigger, outcome string) {
	if m == nil {
		return
	}
	m.renames.WithLabelValues(trigger, outcome).Inc()
}

func (m *Metrics) EnrichmentFailed(field string) {
	if m == nil {
		return
	}
	m.enrichment.WithLabelValues(field).Inc()
}
