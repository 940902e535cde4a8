package domain

import (
	"errors"
	"testing"
	"time"
)

func testBatch() MeltingBatch {
	return MeltingBatch{
		ID:             "batch-1",
		PlanID:         "plan-1",
		Furnace:        "F-1",
		Alloy:          "AA8011",
		Status:         BatchStatusDraft,
		QCGate:         QCGatePending,
		TargetWeightKG: 22000,
	}
}

func TestMeltingBatchTransitions(t *testing.T) {
	batch := testBatch()
	steps := []BatchStatus{
		BatchStatusCharging,
		BatchStatusMelting,
		BatchStatusReadyForTransfer,
		BatchStatusTransferred,
	}
	for _, next := range steps {
		if err := batch.TransitionTo(next); err != nil {
			t.Fatalf("TransitionTo(%s) err=%v", next, err)
		}
	}
	if err := batch.TransitionTo(BatchStatusCancelled); err == nil {
		t.Fatalf("transferred batch must not transition further")
	}
}

func TestMeltingBatchCorrectionReturn(t *testing.T) {
	batch := testBatch()
	batch.Status = BatchStatusReadyForTransfer
	if err := batch.TransitionTo(BatchStatusMelting); err != nil {
		t.Fatalf("TransitionTo(melting) err=%v", err)
	}
}

func TestMeltingBatchReopen(t *testing.T) {
	batch := testBatch()
	if err := batch.TransitionTo(BatchStatusCancelled); err != nil {
		t.Fatalf("TransitionTo(cancelled) err=%v", err)
	}
	if err := batch.TransitionTo(BatchStatusDraft); err != nil {
		t.Fatalf("TransitionTo(draft) err=%v", err)
	}
}

func TestGuardMarkReady(t *testing.T) {
	batch := testBatch()
	batch.Status = BatchStatusMelting

	err := batch.GuardMarkReady()
	var rejection *GuardRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("err=%T, want *GuardRejection", err)
	}

	batch.QCGate = QCGateWithinSpec
	if err := batch.GuardMarkReady(); err != nil {
		t.Fatalf("GuardMarkReady() err=%v", err)
	}

	batch.Status = BatchStatusCharging
	if err := batch.GuardMarkReady(); err == nil {
		t.Fatalf("expected rejection outside melting status")
	}
}

func TestGuardTransfer(t *testing.T) {
	batch := testBatch()
	batch.Status = BatchStatusReadyForTransfer
	batch.QCGate = QCGateOutOfSpec

	err := batch.GuardTransfer()
	var rejection *GuardRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("err=%T, want *GuardRejection", err)
	}

	batch.QCGate = QCGateWithinSpec
	if err := batch.GuardTransfer(); err != nil {
		t.Fatalf("GuardTransfer() err=%v", err)
	}

	batch.Status = BatchStatusMelting
	if err := batch.GuardTransfer(); err == nil {
		t.Fatalf("expected rejection before ready_for_transfer")
	}
}

func TestAddMaterialAndYield(t *testing.T) {
	batch := testBatch()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := batch.AddMaterial(RawMaterialRow{Item: "ingot", WeightKG: 12000, ChargedAt: now, ChargedBy: "op-1"}); err != nil {
		t.Fatalf("AddMaterial() err=%v", err)
	}
	if err := batch.AddMaterial(RawMaterialRow{Item: "scrap", WeightKG: 8000, ChargedAt: now, ChargedBy: "op-1"}); err != nil {
		t.Fatalf("AddMaterial() err=%v", err)
	}
	if got := batch.ChargedWeightKG(); got != 20000 {
		t.Fatalf("ChargedWeightKG()=%v, want 20000", got)
	}

	if err := batch.AddMaterial(RawMaterialRow{Item: "", WeightKG: 10}); err == nil {
		t.Fatalf("expected error for empty item")
	}
	if err := batch.AddMaterial(RawMaterialRow{Item: "ingot", WeightKG: 0}); err == nil {
		t.Fatalf("expected error for zero weight")
	}

	batch.Status = BatchStatusTransferred
	if err := batch.AddMaterial(RawMaterialRow{Item: "ingot", WeightKG: 10}); err == nil {
		t.Fatalf("expected rejection after transfer")
	}

	batch.TappedWeightKG = 19000
	batch.RecalcYield()
	if batch.YieldPercent != 95 {
		t.Fatalf("YieldPercent=%v, want 95", batch.YieldPercent)
	}

	empty := testBatch()
	empty.TappedWeightKG = 100
	empty.RecalcYield()
	if empty.YieldPercent != 0 {
		t.Fatalf("YieldPercent=%v, want 0 with nothing charged", empty.YieldPercent)
	}
}

func TestBatchStatusActive(t *testing.T) {
	for _, s := range ActiveBatchStatuses {
		if !s.Active() {
			t.Fatalf("%s must be active", s)
		}
	}
	if BatchStatusTransferred.Active() {
		t.Fatalf("transferred must not be active")
	}
	if BatchStatusCancelled.Active() {
		t.Fatalf("cancelled must not be active")
	}
}
