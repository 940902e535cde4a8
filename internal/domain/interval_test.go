package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewInterval(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Hour)

	iv, err := NewInterval("CASTER-1", start, end)
	if err != nil {
		t.Fatalf("NewInterval() err=%v", err)
	}
	if iv.Duration() != 4*time.Hour {
		t.Fatalf("Duration()=%v, want 4h", iv.Duration())
	}

	if _, err := NewInterval("", start, end); err == nil {
		t.Fatalf("expected error for empty resource")
	}
	if _, err := NewInterval("CASTER-1", start, start); err == nil {
		t.Fatalf("expected error for zero-length interval")
	}
	if _, err := NewInterval("CASTER-1", end, start); err == nil {
		t.Fatalf("expected error for inverted interval")
	}
	var verr *ValidationError
	_, err = NewInterval("CASTER-1", end, start)
	if !errors.As(err, &verr) {
		t.Fatalf("err=%T, want *ValidationError", err)
	}
}

func TestIntervalOverlaps(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	a := Interval{Resource: "CASTER-1", Start: base, End: base.Add(2 * time.Hour)}

	overlapping := Interval{Resource: "CASTER-1", Start: base.Add(time.Hour), End: base.Add(3 * time.Hour)}
	if !a.Overlaps(overlapping) {
		t.Fatalf("expected overlap")
	}

	// Abutting intervals share a boundary instant but do not overlap.
	abutting := Interval{Resource: "CASTER-1", Start: a.End, End: a.End.Add(time.Hour)}
	if a.Overlaps(abutting) {
		t.Fatalf("abutting intervals must not overlap")
	}

	contained := Interval{Resource: "CASTER-1", Start: base.Add(30 * time.Minute), End: base.Add(time.Hour)}
	if !a.Overlaps(contained) {
		t.Fatalf("expected contained interval to overlap")
	}
}

func TestIntervalShift(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	iv := Interval{Resource: "CASTER-1", Start: base, End: base.Add(2 * time.Hour)}

	shifted := iv.Shift(45 * time.Minute)
	if !shifted.Start.Equal(base.Add(45 * time.Minute)) {
		t.Fatalf("Start=%v, want %v", shifted.Start, base.Add(45*time.Minute))
	}
	if shifted.Duration() != iv.Duration() {
		t.Fatalf("Duration()=%v, want %v", shifted.Duration(), iv.Duration())
	}
}
