package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCurriedVectorsUsableBeforeRegister(t *testing.T) {
	before := testutil.ToFloat64(MessagesStoredTotal.WithLabelValues("text"))
	MessagesStoredTotal.WithLabelValues("text").Inc()
	if got := testutil.ToFloat64(MessagesStoredTotal.WithLabelValues("text")); got != before+1 {
		t.Fatalf("counter = %v, want %v", got, before+1)
	}
	HTTPRequestDurationSeconds.WithLabelValues("GET", "/healthz").Observe(0.01)
}

func TestMustRegisterIsIdempotent(t *testing.T) {
	MustRegister("dmchat-test")
	MustRegister("dmchat-test")
	FanoutFailuresTotal.WithLabelValues("delivered").Inc()
	if got := testutil.ToFloat64(FanoutFailuresTotal.WithLabelValues("delivered")); got < 1 {
		t.Fatalf("expected failure counter to be recorded, got %v", got)
	}
}
