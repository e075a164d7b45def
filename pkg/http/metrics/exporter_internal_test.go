package metrics

import (
	"math"
	"testing"
	"time"
)

func TestSnapshotReflectsLastFitEpoch(t *testing.T) {
	t.Parallel()

	exporter := NewExporter()
	exporter.ObserveEstimatorPValue(0.8, time.Unix(1_700_000_000, 0))

	snapshot := exporter.snapshot()
	if snapshot.lastFitEpoch != 1_700_000_000 {
		t.Fatalf("expected lastFitEpoch 1700000000, got %.0f", snapshot.lastFitEpoch)
	}

	if snapshot.estimatorPValue != 0.8 {
		t.Fatalf("expected estimatorPValue 0.8, got %.2f", snapshot.estimatorPValue)
	}
}

func TestSnapshotKeepsPriorFitEpochOnZeroTimestamp(t *testing.T) {
	t.Parallel()

	exporter := NewExporter()
	exporter.ObserveEstimatorPValue(0.5, time.Unix(1_700_000_000, 0))
	exporter.ObserveEstimatorPValue(0.6, time.Time{})

	snapshot := exporter.snapshot()
	if snapshot.lastFitEpoch != 1_700_000_000 {
		t.Fatalf("expected lastFitEpoch to be retained, got %.0f", snapshot.lastFitEpoch)
	}

	if snapshot.estimatorPValue != 0.6 {
		t.Fatalf("expected estimatorPValue to update to 0.6, got %.2f", snapshot.estimatorPValue)
	}
}

func TestNonNegativeRejectsNaNAndInf(t *testing.T) {
	t.Parallel()

	cases := []float64{math.NaN(), math.Inf(1), math.Inf(-1), -3.5}
	for _, v := range cases {
		if got := nonNegative(v); got != 0 {
			t.Fatalf("nonNegative(%v) = %v, want 0", v, got)
		}
	}

	if got := nonNegative(4.5); got != 4.5 {
		t.Fatalf("nonNegative(4.5) = %v, want 4.5", got)
	}
}
