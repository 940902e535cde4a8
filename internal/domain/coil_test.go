package domain

import (
	"errors"
	"testing"
	"time"
)

func TestCastingRunTransitions(t *testing.T) {
	run := CastingRun{ID: "run-1", PlanID: "plan-1", Caster: "CASTER-1", Status: RunStatusOpen}
	if err := run.TransitionTo(RunStatusCasting); err != nil {
		t.Fatalf("TransitionTo(casting) err=%v", err)
	}
	if err := run.TransitionTo(RunStatusFinished); err != nil {
		t.Fatalf("TransitionTo(finished) err=%v", err)
	}
	if err := run.TransitionTo(RunStatusAborted); err == nil {
		t.Fatalf("finished run must not transition")
	}

	open := CastingRun{ID: "run-2", Status: RunStatusOpen}
	err := open.TransitionTo(RunStatusFinished)
	var rejection *GuardRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("err=%T, want *GuardRejection", err)
	}
}

func TestTempCoilID(t *testing.T) {
	if got := TempCoilID("C-2603-001", 3); got != "C-2603-001-C3" {
		t.Fatalf("TempCoilID()=%q, want C-2603-001-C3", got)
	}
}

func TestCoilGuardFinish(t *testing.T) {
	pending := Coil{ID: "coil-1", RunID: "run-1", TempID: "C-1-C1", Sequence: 1, QCStatus: CoilQCPending}
	if err := pending.GuardFinish(); err == nil {
		t.Fatalf("pending coil must block run finish")
	}

	rejected := pending
	rejected.QCStatus = CoilQCRejected
	if err := rejected.GuardFinish(); err != nil {
		t.Fatalf("GuardFinish() rejected coil err=%v", err)
	}

	approved := pending
	approved.QCStatus = CoilQCApproved
	if err := approved.GuardFinish(); err == nil {
		t.Fatalf("approved coil without weight must block run finish")
	}
	approved.WeightKG = 5200
	if err := approved.GuardFinish(); err == nil {
		t.Fatalf("approved coil without final id must block run finish")
	}
	approved.FinalID = "FIN-001"
	if err := approved.GuardFinish(); err != nil {
		t.Fatalf("GuardFinish() err=%v", err)
	}
}

func TestCoilFinalize(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	coil := Coil{ID: "coil-1", RunID: "run-1", TempID: "C-1-C1", Sequence: 1, QCStatus: CoilQCPending}

	err := coil.Finalize("FIN-001", 5200, "op-1", now)
	var rejection *GuardRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("err=%T, want *GuardRejection", err)
	}

	coil.QCStatus = CoilQCApproved
	if err := coil.Finalize("", 5200, "op-1", now); err == nil {
		t.Fatalf("expected error for empty final id")
	}
	if err := coil.Finalize("FIN-001", 0, "op-1", now); err == nil {
		t.Fatalf("expected error for zero weight")
	}
	if err := coil.Finalize("FIN-001", 5200, "op-1", now); err != nil {
		t.Fatalf("Finalize() err=%v", err)
	}
	if coil.FinalID != "FIN-001" || coil.WeightKG != 5200 {
		t.Fatalf("FinalID=%q WeightKG=%v, want FIN-001/5200", coil.FinalID, coil.WeightKG)
	}
}
