package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNextSampleNo(t *testing.T) {
	if got := NextSampleNo(0); got != "S1" {
		t.Fatalf("NextSampleNo(0)=%q, want S1", got)
	}
	if got := NextSampleNo(2); got != "S3" {
		t.Fatalf("NextSampleNo(2)=%q, want S3", got)
	}
}

func TestSampleTransitions(t *testing.T) {
	sample := Sample{ID: "sample-1", BatchID: "batch-1", SampleNo: "S1", Status: SampleStatusPending}
	if err := sample.TransitionTo(SampleStatusInLab); err != nil {
		t.Fatalf("TransitionTo(in_lab) err=%v", err)
	}
	if err := sample.TransitionTo(SampleStatusAccepted); err != nil {
		t.Fatalf("TransitionTo(accepted) err=%v", err)
	}
	if err := sample.TransitionTo(SampleStatusSuperseded); err != nil {
		t.Fatalf("TransitionTo(superseded) err=%v", err)
	}
	if err := sample.TransitionTo(SampleStatusPending); err == nil {
		t.Fatalf("superseded sample must not transition")
	}

	fresh := Sample{ID: "sample-2", Status: SampleStatusPending}
	err := fresh.TransitionTo(SampleStatusAccepted)
	var rejection *GuardRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("err=%T, want *GuardRejection", err)
	}

	// Acceptance is final: correction happens instead of acceptance, never
	// after it.
	accepted := Sample{ID: "sample-3", Status: SampleStatusAccepted}
	if err := accepted.TransitionTo(SampleStatusCorrectionRequired); err == nil {
		t.Fatalf("accepted sample must not move to correction_required")
	}
}

func TestSampleSetReadings(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sample := Sample{ID: "sample-1", BatchID: "batch-1", SampleNo: "S1", Status: SampleStatusPending}

	if err := sample.SetReadings(map[string]float64{"Fe": 0.4, "Si": 0.2}, "lab-1", now); err != nil {
		t.Fatalf("SetReadings() err=%v", err)
	}
	if sample.SubmittedBy != "lab-1" {
		t.Fatalf("SubmittedBy=%q, want lab-1", sample.SubmittedBy)
	}

	// Readings are write-once; a re-test means a new sample.
	err := sample.SetReadings(map[string]float64{"Fe": 0.3}, "lab-1", now)
	var rejection *GuardRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("err=%T, want *GuardRejection", err)
	}

	empty := Sample{ID: "sample-2", Status: SampleStatusPending}
	if err := empty.SetReadings(map[string]float64{}, "lab-1", now); err == nil {
		t.Fatalf("expected error for empty readings")
	}
	if err := empty.SetReadings(map[string]float64{"Fe": -0.1}, "lab-1", now); err == nil {
		t.Fatalf("expected error for negative reading")
	}

	done := Sample{ID: "sample-3", Status: SampleStatusAccepted}
	if err := done.SetReadings(map[string]float64{"Fe": 0.3}, "lab-1", now); err == nil {
		t.Fatalf("expected rejection for accepted sample")
	}
}
