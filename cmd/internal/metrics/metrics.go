// Package metrics exposes Prometheus counters for participation and notification outcomes.
package metrics

import (
	"net/http"

	"acteezer/cmd/internal/notify"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "acteezer"

// Registry owns the collectors. It implements participation.Observer and notify.Observer.
type Registry struct {
	reg *prometheus.Registry

	joins         *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	pushes        *prometheus.CounterVec
	rateLimited   prometheus.Counter
}

// New registers every collector on a fresh registry, plus the Go and process collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_requests_total",
			Help:      "Join requests by outcome (created, denied, error).",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "participant_transitions_total",
			Help:      "Organizer and requester transitions by operation and result.",
		}, []string{"op", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Persisted notification records by kind.",
		}, []string{"kind"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_attempts_total",
			Help:      "Push decisions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_rate_limited_total",
			Help:      "Join requests refused by the per-user rate limit.",
		}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.joins,
		r.transitions,
		r.notifications,
		r.pushes,
		r.rateLimited,
	)
	return r
}

func (r *Registry) ObserveJoin(outcome string) {
	r.joins.WithLabelValues(outcome).Inc()
}

func (r *Registry) ObserveTransition(op, result string) {
	r.transitions.WithLabelValues(op, result).Inc()
}

func (r *Registry) ObserveNotification(kind notify.Kind) {
	r.notifications.WithLabelValues(string(kind)).Inc()
}

func (r *Registry) ObservePush(kind notify.Kind, outcome notify.Outcome) {
	r.pushes.WithLabelValues(string(kind), string(outcome)).Inc()
}

// ObserveRateLimited counts a refused join request.
func (r *Registry) ObserveRateLimited() {
	r.rateLimited.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry (tests, custom exporters).
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
