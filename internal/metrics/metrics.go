package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prediction outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeStale   = "stale"
)

// Pipeline stages a stale completion can be dropped at.
const (
	StageAcquire = "acquire"
	StagePredict = "predict"
)

// Metrics holds the pipeline collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	selections        prometheus.Counter
	predictions       *prometheus.CounterVec
	failures          *prometheus.CounterVec
	ignoredPredicts   prometheus.Counter
	staleResults      *prometheus.CounterVec
	inferenceDuration prometheus.Histogram
	state             *prometheus.GaugeVec
}

// New creates a Metrics instance with its collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.selections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_selections_total",
		Help: "Total images selected",
	})
	m.predictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_predictions_total",
		Help: "Completed predictions by outcome",
	}, []string{"outcome"})
	m.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_failures_total",
		Help: "Pipeline failures by kind",
	}, []string{"kind"})
	m.ignoredPredicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_predict_ignored_total",
		Help: "Predict requests ignored because no image was ready or a prediction was running",
	})
	m.staleResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stale_results_total",
		Help: "Completions discarded because the selection or request changed",
	}, []string{"stage"})
	m.inferenceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "classifier_inference_duration_seconds",
		Help:    "Preprocess and inference latency",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})
	m.state = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_state",
		Help: "Current pipeline state (1 for the active state)",
	}, []string{"state"})

	m.registry.MustRegister(
		m.selections,
		m.predictions,
		m.failures,
		m.ignoredPredicts,
		m.staleResults,
		m.inferenceDuration,
		m.state,
	)
}

// RegisterPoolGauge exposes the number of idle inference sessions.
func (m *Metrics) RegisterPoolGauge(available func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "classifier_sessions_available",
			Help: "Idle inference sessions",
		},
		func() float64 { return float64(available()) },
	))
}

func (m *Metrics) Selection() {
	if m == nil {
		return
	}
	m.selections.Inc()
}

func (m *Metrics) Prediction(outcome string) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Failure(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) PredictIgnored() {
	if m == nil {
		return
	}
	m.ignoredPredicts.Inc()
}

func (m *Metrics) Stale(stage string) {
	if m == nil {
		return
	}
	m.staleResults.WithLabelValues(stage).Inc()
	if stage == StagePredict {
		m.predictions.WithLabelValues(OutcomeStale).Inc()
	}
}

// ObserveInference records how long a prediction took.
func (m *Metrics) ObserveInference(d time.Duration) {
	if m == nil {
		return
	}
	m.inferenceDuration.Observe(d.Seconds())
}

// SetState marks state as the active one.
func (m *Metrics) SetState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(s).Set(v)
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
