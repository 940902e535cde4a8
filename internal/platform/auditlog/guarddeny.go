package auditlog

import (
	"context"
	"time"

	"github.com/swynix/mes-go/internal/domain"
)

// InsertGuardRejection records a refused status transition. Guard denials
// are part of the production record: auditors ask why a transfer did not
// happen as often as why it did.
func InsertGuardRejection(ctx context.Context, db QueryRower, service string, rej *domain.GuardRejection, actor, requestID string) (int64, error) {
	return Insert(ctx, db, Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        actor,
		Action:       "transition.rejected",
		ResourceType: rej.Aggregate,
		ResourceID:   rej.ID,
		RequestID:    requestID,
		Payload: map[string]any{
			"service":    service,
			"transition": rej.Transition,
			"current":    rej.Current,
			"required":   rej.Required,
		},
	})
}

// InsertScheduleCommit records an applied schedule proposal: where the new
// plan landed and every plan it moved.
func InsertScheduleCommit(ctx context.Context, db QueryRower, resource, planID string, shiftedPlanIDs []string, shiftDelta time.Duration, actor, requestID string) (int64, error) {
	return Insert(ctx, db, Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        actor,
		Action:       "schedule.committed",
		ResourceType: "casting_plan",
		ResourceID:   planID,
		RequestID:    requestID,
		Payload: map[string]any{
			"service":             "planning",
			"resource":            resource,
			"shifted_plan_ids":    shiftedPlanIDs,
			"shift_delta_seconds": int64(shiftDelta / time.Second),
		},
	})
}
