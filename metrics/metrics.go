package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	RecordsTotal   *prometheus.CounterVec
	FetchDuration  *prometheus.HistogramVec
	LLMRequests    *prometheus.CounterVec
	ReductionRatio prometheus.Histogram
	RetriesTotal   prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inmobiscrap_runs_total",
			Help: "Pipeline runs by terminal status",
		}, []string{"status"}),
		RecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inmobiscrap_records_total",
			Help: "Candidate records by outcome",
		}, []string{"outcome"}), // created, updated, rejected, persist_failed
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inmobiscrap_fetch_duration_seconds",
			Help:    "Page fetch latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inmobiscrap_llm_requests_total",
			Help: "LLM extraction calls by result",
		}, []string{"result"}),
		ReductionRatio: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "inmobiscrap_html_reduction_ratio",
			Help:    "Reduced size over original size",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "inmobiscrap_retries_total",
			Help: "Pipeline attempts retried after a fatal stage error",
		}),
		gatherer: reg,
	}
}

func (m *Metrics) IncRun(status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncRecord(outcome string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFetch(result string, seconds float64) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(result).Observe(seconds)
}

func (m *Metrics) IncLLM(result string) {
	if m == nil {
		return
	}
	m.LLMRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveReduction(ratio float64) {
	if m == nil {
		return
	}
	m.ReductionRatio.Observe(ratio)
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
