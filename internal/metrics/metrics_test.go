package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should tolerate duplicates: %v", err)
	}
}

func TestObserveLogAppendNormalisesOutcome(t *testing.T) {
	before := testutil.ToFloat64(logAppendsTotal.WithLabelValues("survey", OutcomeSuccess))
	ObserveLogAppend("survey", "anything")
	after := testutil.ToFloat64(logAppendsTotal.WithLabelValues("survey", OutcomeSuccess))
	if after != before+1 {
		t.Fatalf("expected success counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestObserveCorrelationCountsErrors(t *testing.T) {
	before := testutil.ToFloat64(correlationsTotal.WithLabelValues(OutcomeError))
	ObserveCorrelation(-time.Second, OutcomeError)
	if got := testutil.ToFloat64(correlationsTotal.WithLabelValues(OutcomeError)); got != before+1 {
		t.Fatalf("expected error counter %v, got %v", before+1, got)
	}
}
