package repo

import (
	"context"
	"errors"
	"time"

	"github.com/swynix/mes-go/internal/composition"
	"github.com/swynix/mes-go/internal/domain"
)

// ErrNotFound is returned by Get operations when no row matches.
var ErrNotFound = errors.New("not found")

type PlanFilter struct {
	Resource string
	Status   domain.PlanStatus
	Kind     domain.PlanKind
	From     time.Time
	To       time.Time
	Limit    int
}

type BatchFilter struct {
	PlanID  string
	Furnace string
	Status  domain.BatchStatus
	Limit   int
}

type SampleFilter struct {
	BatchID string
	Status  domain.SampleStatus
	Limit   int
}

type CoilFilter struct {
	RunID    string
	QCStatus domain.CoilQCStatus
	Limit    int
}

// PlanRepository manages scheduled plans. ListForResource returns every plan
// occupying a caster, the working set of the repair planner.
type PlanRepository interface {
	Create(ctx context.Context, plan domain.ScheduledPlan) error
	Get(ctx context.Context, id string) (domain.ScheduledPlan, error)
	List(ctx context.Context, filter PlanFilter) ([]domain.ScheduledPlan, error)
	ListForResource(ctx context.Context, resource string) ([]domain.ScheduledPlan, error)
	UpdateInterval(ctx context.Context, id string, interval domain.Interval) error
	UpdateStatus(ctx context.Context, id string, status domain.PlanStatus) error
	LinkBatch(ctx context.Context, id, batchID string) error
}

// BatchRepository manages melting batches. CreateIfFurnaceFree enforces the
// one-active-batch-per-furnace invariant atomically.
type BatchRepository interface {
	CreateIfFurnaceFree(ctx context.Context, batch domain.MeltingBatch) error
	Get(ctx context.Context, id string) (domain.MeltingBatch, error)
	List(ctx context.Context, filter BatchFilter) ([]domain.MeltingBatch, error)
	ActiveForFurnace(ctx context.Context, furnace string) (domain.MeltingBatch, error)
	Update(ctx context.Context, batch domain.MeltingBatch) error
}

// SampleRepository manages spectro samples.
type SampleRepository interface {
	Create(ctx context.Context, sample domain.Sample) error
	Get(ctx context.Context, id string) (domain.Sample, error)
	List(ctx context.Context, filter SampleFilter) ([]domain.Sample, error)
	CountForBatch(ctx context.Context, batchID string) (int, error)
	Update(ctx context.Context, sample domain.Sample) error
}

// RunRepository manages casting runs and their coils.
type RunRepository interface {
	CreateRun(ctx context.Context, run domain.CastingRun) error
	GetRun(ctx context.Context, id string) (domain.CastingRun, error)
	UpdateRun(ctx context.Context, run domain.CastingRun) error

	CreateCoil(ctx context.Context, coil domain.Coil) error
	GetCoil(ctx context.Context, id string) (domain.Coil, error)
	ListCoils(ctx context.Context, filter CoilFilter) ([]domain.Coil, error)
	UpdateCoil(ctx context.Context, coil domain.Coil) error
	NextCoilSequence(ctx context.Context, runID string) (int, error)
}

// RuleSetRepository stores composition specifications per alloy. Active
// selects the highest revision marked active.
type RuleSetRepository interface {
	Create(ctx context.Context, alloy string, set composition.RuleSet, active bool) error
	Active(ctx context.Context, alloy string) (composition.RuleSet, error)
	Get(ctx context.Context, alloy string, revision int) (composition.RuleSet, error)
	Deactivate(ctx context.Context, alloy string, revision int) error
}
