// Package metrics records ledger and catalog outcomes as Prometheus counters.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/warehouse-ledger/warehouse"
)

// Outcome label values.
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// Recorder implements warehouse.Observer.
type Recorder struct {
	registry *prometheus.Registry
	arrivals *prometheus.CounterVec
	catalog  *prometheus.CounterVec
	retries  *prometheus.CounterVec
	pairs    prometheus.Gauge
	negative prometheus.Gauge
}

// NewRecorder registers the warehouse counters plus Go and process
// collectors on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		arrivals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warehouse_arrival_mutations_total",
			Help: "Arrival create/update/delete attempts by outcome.",
		}, []string{"op", "outcome", "code"}),
		catalog: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warehouse_catalog_mutations_total",
			Help: "Resource and unit create/update/archive attempts by outcome.",
		}, []string{"op", "outcome", "code"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warehouse_conflict_retries_total",
			Help: "Transactions re-run after a concurrency conflict.",
		}, []string{"op"}),
		pairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warehouse_balance_pairs",
			Help: "Pairs seen by the last balance audit.",
		}),
		negative: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warehouse_negative_balance_pairs",
			Help: "Negative pairs found by the last balance audit.",
		}),
	}
	reg.MustRegister(
		r.arrivals, r.catalog, r.retries, r.pairs, r.negative,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveMutation counts one finished mutation.
func (r *Recorder) ObserveMutation(op string, err error) {
	vec := r.catalog
	if strings.HasSuffix(op, "_arrival") {
		vec = r.arrivals
	}
	vec.WithLabelValues(op, Outcome(err), warehouse.Code(err)).Inc()
}

// ObserveRetry counts one conflict retry.
func (r *Recorder) ObserveRetry(op string) {
	r.retries.WithLabelValues(op).Inc()
}

// ObserveAudit records the result of a balance audit.
func (r *Recorder) ObserveAudit(pairs, negative int) {
	r.pairs.Set(float64(pairs))
	r.negative.Set(float64(negative))
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Outcome classifies err into a label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeApplied
	case warehouse.IsRetryable(err):
		return OutcomeConflict
	case warehouse.IsClientError(err) || warehouse.IsNotFound(err):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}

var _ warehouse.Observer = (*Recorder)(nil)
