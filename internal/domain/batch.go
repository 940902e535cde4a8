package domain

import (
	"strings"
	"time"
)

type BatchStatus string

const (
	BatchStatusDraft            BatchStatus = "draft"
	BatchStatusCharging         BatchStatus = "charging"
	BatchStatusMelting          BatchStatus = "melting"
	BatchStatusReadyForTransfer BatchStatus = "ready_for_transfer"
	BatchStatusTransferred      BatchStatus = "transferred"
	BatchStatusCancelled        BatchStatus = "cancelled"
)

// QCGate is the batch-level composition verdict that gates metal transfer.
type QCGate string

const (
	QCGatePending            QCGate = "pending"
	QCGateWithinSpec         QCGate = "within_spec"
	QCGateOutOfSpec          QCGate = "out_of_spec"
	QCGateCorrectionRequired QCGate = "correction_required"
)

// RawMaterialRow is one charge of material into the furnace. Weights are in
// kilograms as read from the floor scale.
type RawMaterialRow struct {
	Item      string    `json:"item"`
	WeightKG  float64   `json:"weight_kg"`
	ChargedAt time.Time `json:"charged_at"`
	ChargedBy string    `json:"charged_by"`
}

// ProcessEvent records a timestamped step in the batch lifecycle for the
// shift report (charge, sample drawn, QC verdict, transfer).
type ProcessEvent struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Actor   string    `json:"actor"`
	Details string    `json:"details,omitempty"`
}

// MeltingBatch tracks one furnace heat from first charge to metal transfer.
type MeltingBatch struct {
	ID        string
	PlanID    string
	Furnace   string
	Alloy     string
	Status    BatchStatus
	QCGate    QCGate
	Materials []RawMaterialRow
	Events    []ProcessEvent

	TargetWeightKG    float64
	TransferredAt     time.Time
	TransferredBy     string
	TappedWeightKG    float64
	YieldPercent      float64
	CorrectionComment string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b MeltingBatch) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return NewValidationError("id", "is required")
	}
	if strings.TrimSpace(b.PlanID) == "" {
		return NewValidationError("plan_id", "is required")
	}
	if strings.TrimSpace(b.Furnace) == "" {
		return NewValidationError("furnace", "is required")
	}
	if strings.TrimSpace(b.Alloy) == "" {
		return NewValidationError("alloy", "is required")
	}
	if b.TargetWeightKG < 0 {
		return NewValidationError("target_weight_kg", "must not be negative")
	}
	return nil
}

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusDraft:            {BatchStatusCharging, BatchStatusCancelled},
	BatchStatusCharging:         {BatchStatusMelting, BatchStatusCancelled},
	BatchStatusMelting:          {BatchStatusReadyForTransfer, BatchStatusCancelled},
	BatchStatusReadyForTransfer: {BatchStatusTransferred, BatchStatusMelting, BatchStatusCancelled},
	BatchStatusTransferred:      {},
	// A cancelled batch can be reopened to draft so its plan slot is not
	// lost; everything else about it is re-entered from scratch.
	BatchStatusCancelled: {BatchStatusDraft},
}

func (b *MeltingBatch) TransitionTo(next BatchStatus) error {
	for _, s := range batchTransitions[b.Status] {
		if s == next {
			b.Status = next
			return nil
		}
	}
	return &GuardRejection{
		Aggregate:  "melting_batch",
		ID:         b.ID,
		Transition: "set_status " + string(next),
		Current:    string(b.Status),
		Required:   "one of: " + joinBatchStatuses(batchTransitions[b.Status]),
	}
}

// GuardMarkReady blocks melting -> ready_for_transfer until at least one
// sample came back not out of spec. Correction-required also blocks.
func (b MeltingBatch) GuardMarkReady() error {
	if b.Status != BatchStatusMelting {
		return &GuardRejection{
			Aggregate:  "melting_batch",
			ID:         b.ID,
			Transition: "mark_ready_for_transfer",
			Current:    string(b.Status),
			Required:   string(BatchStatusMelting),
		}
	}
	if b.QCGate != QCGateWithinSpec {
		return &GuardRejection{
			Aggregate:  "melting_batch",
			ID:         b.ID,
			Transition: "mark_ready_for_transfer",
			Current:    string(b.Status),
			Required:   "within-spec composition sample (qc gate is " + string(b.QCGate) + ")",
		}
	}
	return nil
}

// GuardTransfer checks both the lifecycle position and the QC gate. Metal
// leaves the furnace only with an accepted within-spec sample on record.
func (b MeltingBatch) GuardTransfer() error {
	if b.Status != BatchStatusReadyForTransfer {
		return &GuardRejection{
			Aggregate:  "melting_batch",
			ID:         b.ID,
			Transition: "transfer",
			Current:    string(b.Status),
			Required:   string(BatchStatusReadyForTransfer),
		}
	}
	if b.QCGate != QCGateWithinSpec {
		return &GuardRejection{
			Aggregate:  "melting_batch",
			ID:         b.ID,
			Transition: "transfer",
			Current:    string(b.Status),
			Required:   "accepted within-spec composition sample (qc gate is " + string(b.QCGate) + ")",
		}
	}
	return nil
}

// ActiveBatchStatuses are the statuses that occupy a furnace. A furnace with
// a batch in any of these cannot start another.
var ActiveBatchStatuses = []BatchStatus{
	BatchStatusDraft,
	BatchStatusCharging,
	BatchStatusMelting,
	BatchStatusReadyForTransfer,
}

func (s BatchStatus) Active() bool {
	for _, a := range ActiveBatchStatuses {
		if s == a {
			return true
		}
	}
	return false
}

func (b *MeltingBatch) AddMaterial(row RawMaterialRow) error {
	if strings.TrimSpace(row.Item) == "" {
		return NewValidationError("item", "is required")
	}
	if row.WeightKG <= 0 {
		return NewValidationError("weight_kg", "must be greater than 0")
	}
	switch b.Status {
	case BatchStatusDraft, BatchStatusCharging, BatchStatusMelting:
	default:
		return &GuardRejection{
			Aggregate:  "melting_batch",
			ID:         b.ID,
			Transition: "add_material",
			Current:    string(b.Status),
			Required:   "draft, charging or melting",
		}
	}
	b.Materials = append(b.Materials, row)
	return nil
}

// ChargedWeightKG sums every charged row.
func (b MeltingBatch) ChargedWeightKG() float64 {
	var total float64
	for _, row := range b.Materials {
		total += row.WeightKG
	}
	return total
}

// RecalcYield sets YieldPercent from tapped vs charged weight. Zero charged
// weight leaves the yield at zero rather than dividing.
func (b *MeltingBatch) RecalcYield() {
	charged := b.ChargedWeightKG()
	if charged <= 0 || b.TappedWeightKG <= 0 {
		b.YieldPercent = 0
		return
	}
	b.YieldPercent = b.TappedWeightKG / charged * 100
}

func (b *MeltingBatch) RecordEvent(at time.Time, kind, actor, details string) {
	b.Events = append(b.Events, ProcessEvent{At: at, Kind: kind, Actor: actor, Details: details})
}

func joinBatchStatuses(in []BatchStatus) string {
	if len(in) == 0 {
		return "none (terminal status)"
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return strings.Join(out, ", ")
}
