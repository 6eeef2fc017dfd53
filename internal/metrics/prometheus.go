// ABOUTME: Prometheus-backed Recorder and the scrape handler
// ABOUTME: All metrics live under the forgestate namespace in an injected registry

package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	writes          *prom.CounterVec
	writeDuration   *prom.HistogramVec
	completed       prom.Gauge
	total           prom.Gauge
	replays         prom.Counter
	syncTransitions *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the metrics on reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		writes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "forgestate",
			Name:      "state_writes_total",
			Help:      "State writes by operation and result",
		}, []string{"op", "result"}),
		writeDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "forgestate",
			Name:      "state_write_duration_seconds",
			Help:      "Duration of state writes including the durable save",
			Buckets:   prom.DefBuckets,
		}, []string{"op"}),
		completed: prom.NewGauge(prom.GaugeOpts{
			Namespace: "forgestate",
			Name:      "checklist_completed_steps",
			Help:      "Completed checklist steps in the last committed state",
		}),
		total: prom.NewGauge(prom.GaugeOpts{
			Namespace: "forgestate",
			Name:      "checklist_total_steps",
			Help:      "Checklist length in the last committed state",
		}),
		replays: prom.NewCounter(prom.CounterOpts{
			Namespace: "forgestate",
			Name:      "idempotent_replays_total",
			Help:      "Responses replayed for a repeated Idempotency-Key",
		}),
		syncTransitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "forgestate",
			Name:      "sync_transitions_total",
			Help:      "Client sync phase transitions",
		}, []string{"from", "to"}),
	}
	reg.MustRegister(pr.writes, pr.writeDuration, pr.completed, pr.total, pr.replays, pr.syncTransitions)
	return pr
}

func (p *PrometheusRecorder) ObserveWrite(op, result string, d time.Duration) {
	if p == nil {
		return
	}
	p.writes.WithLabelValues(op, result).Inc()
	p.writeDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetChecklistProgress(completed, total int) {
	if p == nil {
		return
	}
	p.completed.Set(float64(completed))
	p.total.Set(float64(total))
}

func (p *PrometheusRecorder) IncIdempotentReplay() {
	if p == nil {
		return
	}
	p.replays.Inc()
}

func (p *PrometheusRecorder) IncSyncTransition(from, to string) {
	if p == nil {
		return
	}
	p.syncTransitions.WithLabelValues(from, to).Inc()
}

// HTTPHandler returns an http.Handler that serves metrics for reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
