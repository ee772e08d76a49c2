package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()

	m.Selection()
	m.Selection()
	m.Prediction(OutcomeSuccess)
	m.Failure("decode")
	m.PredictIgnored()
	m.Stale(StagePredict)
	m.Stale(StageAcquire)

	if got := testutil.ToFloat64(m.selections); got != 2 {
		t.Errorf("selections: expected 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.predictions.WithLabelValues(OutcomeSuccess)); got != 1 {
		t.Errorf("success: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.predictions.WithLabelValues(OutcomeStale)); got != 1 {
		t.Errorf("stale predictions: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("decode")); got != 1 {
		t.Errorf("decode failures: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.ignoredPredicts); got != 1 {
		t.Errorf("ignored: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.staleResults.WithLabelValues(StageAcquire)); got != 1 {
		t.Errorf("stale acquire: expected 1, got %v", got)
	}
}

func TestSetStateIsExclusive(t *testing.T) {
	m := New()
	all := []string{"idle", "ready", "predicting"}

	m.SetState("idle", all)
	m.SetState("predicting", all)

	want := map[string]float64{"idle": 0, "ready": 0, "predicting": 1}
	for state, v := range want {
		if got := testutil.ToFloat64(m.state.WithLabelValues(state)); got != v {
			t.Errorf("%s: expected %v, got %v", state, v, got)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Selection()
	m.Prediction(OutcomeFailure)
	m.Failure("inference")
	m.PredictIgnored()
	m.Stale(StagePredict)
	m.ObserveInference(time.Second)
	m.SetState("idle", []string{"idle"})
	m.RegisterPoolGauge(func() int { return 1 })
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.RegisterPoolGauge(func() int { return 3 })
	m.ObserveInference(20 * time.Millisecond)
	m.Selection()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{
		"pipeline_selections_total 1",
		"classifier_sessions_available 3",
		"classifier_inference_duration_seconds_count 1",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("expected %q in metrics output", name)
		}
	}
}
