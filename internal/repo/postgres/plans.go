package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/swynix/mes-go/internal/domain"
	"github.com/swynix/mes-go/internal/repo"
)

type PlanStore struct {
	db DB
}

func NewPlanStore(db DB) *PlanStore {
	if db == nil {
		return nil
	}
	return &PlanStore{db: db}
}

const planColumns = `plan_id, cast_no, kind, resource, start_at, end_at, sequence_rank, status,
	furnace, alloy, product_item, width_mm, final_gauge_mm, planned_weight_mt,
	downtime_type, downtime_reason, melting_batch_id, created_at, updated_at`

func (s *PlanStore) Create(ctx context.Context, plan domain.ScheduledPlan) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("plan store not initialized")
	}
	if err := plan.Validate(); err != nil {
		return err
	}
	createdAt := normalizeTime(plan.CreatedAt)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO casting_plans (`+planColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		strings.TrimSpace(plan.ID),
		strings.TrimSpace(plan.CastNo),
		string(plan.Kind),
		plan.Interval.Resource,
		plan.Interval.Start.UTC(),
		plan.Interval.End.UTC(),
		plan.SequenceRank,
		string(plan.Status),
		strings.TrimSpace(plan.Furnace),
		strings.TrimSpace(plan.Alloy),
		strings.TrimSpace(plan.ProductItem),
		plan.WidthMM,
		plan.FinalGaugeMM,
		plan.PlannedWeightMT,
		strings.TrimSpace(plan.DowntimeType),
		strings.TrimSpace(plan.DowntimeReason),
		nullableText(plan.MeltingBatchID),
		createdAt,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert casting plan: %w", err)
	}
	return nil
}

func (s *PlanStore) Get(ctx context.Context, id string) (domain.ScheduledPlan, error) {
	if s == nil || s.db == nil {
		return domain.ScheduledPlan{}, fmt.Errorf("plan store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.ScheduledPlan{}, fmt.Errorf("plan id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+planColumns+` FROM casting_plans WHERE plan_id = $1`,
		id,
	)
	plan, err := scanPlan(row)
	if err != nil {
		return domain.ScheduledPlan{}, handleNotFound(err)
	}
	return plan, nil
}

func (s *PlanStore) List(ctx context.Context, filter repo.PlanFilter) ([]domain.ScheduledPlan, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("plan store not initialized")
	}
	query, args := buildPlanListQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list casting plans: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduledPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, plan)
	}
	return out, rows.Err()
}

func buildPlanListQuery(filter repo.PlanFilter) (string, []any) {
	clauses := make([]string, 0, 5)
	args := make([]any, 0, 6)

	if strings.TrimSpace(filter.Resource) != "" {
		args = append(args, strings.TrimSpace(filter.Resource))
		clauses = append(clauses, fmt.Sprintf("resource = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		clauses = append(clauses, fmt.Sprintf("kind = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From.UTC())
		clauses = append(clauses, fmt.Sprintf("end_at > $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To.UTC())
		clauses = append(clauses, fmt.Sprintf("start_at < $%d", len(args)))
	}

	query := `SELECT ` + planColumns + ` FROM casting_plans`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY start_at ASC, sequence_rank ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

// ListForResource returns every plan still occupying the caster, ordered for
// the repair planner. Terminal plans no longer block the timeline.
func (s *PlanStore) ListForResource(ctx context.Context, resource string) ([]domain.ScheduledPlan, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("plan store not initialized")
	}
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return nil, fmt.Errorf("resource is required")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+planColumns+` FROM casting_plans
		 WHERE resource = $1 AND status NOT IN ($2, $3, $4)
		 ORDER BY start_at ASC, sequence_rank ASC`,
		resource,
		string(domain.PlanStatusCoilsComplete),
		string(domain.PlanStatusNotProduced),
		string(domain.PlanStatusCancelled),
	)
	if err != nil {
		return nil, fmt.Errorf("list plans for resource: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduledPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, plan)
	}
	return out, rows.Err()
}

func (s *PlanStore) UpdateInterval(ctx context.Context, id string, interval domain.Interval) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("plan store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE casting_plans SET start_at = $2, end_at = $3, updated_at = $4 WHERE plan_id = $1`,
		strings.TrimSpace(id),
		interval.Start.UTC(),
		interval.End.UTC(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update plan interval: %w", err)
	}
	return requireAffected(res)
}

func (s *PlanStore) UpdateStatus(ctx context.Context, id string, status domain.PlanStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("plan store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE casting_plans SET status = $2, updated_at = $3 WHERE plan_id = $1`,
		strings.TrimSpace(id),
		string(status),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update plan status: %w", err)
	}
	return requireAffected(res)
}

func (s *PlanStore) LinkBatch(ctx context.Context, id, batchID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("plan store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE casting_plans SET melting_batch_id = $2, updated_at = $3
		 WHERE plan_id = $1 AND melting_batch_id IS NULL`,
		strings.TrimSpace(id),
		strings.TrimSpace(batchID),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("link batch to plan: %w", err)
	}
	return requireAffected(res)
}

func scanPlan(row interface{ Scan(...any) error }) (domain.ScheduledPlan, error) {
	var plan domain.ScheduledPlan
	var kind, status string
	var batchID sql.NullString
	if err := row.Scan(
		&plan.ID,
		&plan.CastNo,
		&kind,
		&plan.Interval.Resource,
		&plan.Interval.Start,
		&plan.Interval.End,
		&plan.SequenceRank,
		&status,
		&plan.Furnace,
		&plan.Alloy,
		&plan.ProductItem,
		&plan.WidthMM,
		&plan.FinalGaugeMM,
		&plan.PlannedWeightMT,
		&plan.DowntimeType,
		&plan.DowntimeReason,
		&batchID,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	); err != nil {
		return domain.ScheduledPlan{}, err
	}
	plan.Kind = domain.PlanKind(kind)
	plan.Status = domain.PlanStatus(status)
	plan.Interval.Start = plan.Interval.Start.UTC()
	plan.Interval.End = plan.Interval.End.UTC()
	if batchID.Valid {
		plan.MeltingBatchID = batchID.String
	}
	return plan, nil
}

func nullableText(v string) any {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return v
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
