package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := g.Write(metric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestOutboxMetrics_Backlog(t *testing.T) {
	m := NewOutboxMetrics(prometheus.NewRegistry())

	m.SetBacklog(3, time.Now().Add(-2*time.Second))
	if got := gaugeValue(t, m.pending); got != 3 {
		t.Fatalf("expected pending 3, got %v", got)
	}
	if got := gaugeValue(t, m.oldestAge); got < 1 {
		t.Fatalf("expected oldest age >= 1s, got %v", got)
	}

	m.SetBacklog(0, time.Time{})
	if got := gaugeValue(t, m.oldestAge); got != 0 {
		t.Fatalf("expected zero age for empty backlog, got %v", got)
	}
}

func TestOutboxMetrics_PublishAttempts(t *testing.T) {
	m := NewOutboxMetrics(prometheus.NewRegistry())

	m.RecordPublish(OutboxResultSent)
	m.RecordPublish(OutboxResultSent)
	m.RecordPublish(OutboxResultFailed)

	if got := counterValue(t, m.publishAttempts.WithLabelValues(OutboxResultSent)); got != 2 {
		t.Fatalf("expected 2 sent, got %v", got)
	}
	if got := counterValue(t, m.publishAttempts.WithLabelValues(OutboxResultFailed)); got != 1 {
		t.Fatalf("expected 1 failed, got %v", got)
	}
}

func TestOutboxMetrics_NilSafe(t *testing.T) {
	var m *OutboxMetrics
	m.RecordPublish(OutboxResultSent)
	m.SetBacklog(1, time.Now())
}

func TestIdempotencyCleanupMetrics(t *testing.T) {
	m := NewIdempotencyCleanupMetrics(prometheus.NewRegistry())

	m.AddDeleted(3)
	m.AddDeleted(-1)
	m.RecordRun("ok", 3)
	m.RecordRun("error", 0)

	metric := &dto.Metric{}
	if err := m.deleted.Write(metric); err != nil {
		t.Fatalf("failed to write counter: %v", err)
	}
	if got := metric.Counter.GetValue(); got != 3 {
		t.Fatalf("expected 3 deleted keys, got %v", got)
	}
	if got := gaugeValue(t, m.lastDeleted); got != 3 {
		t.Fatalf("failed run must not reset last deleted, got %v", got)
	}

	var nilMetrics *IdempotencyCleanupMetrics
	nilMetrics.RecordRun("ok", 1)
	nilMetrics.AddDeleted(1)
}
