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

type BatchStore struct {
	db DB
}

func NewBatchStore(db DB) *BatchStore {
	if db == nil {
		return nil
	}
	return &BatchStore{db: db}
}

const batchColumns = `batch_id, plan_id, furnace, alloy, status, qc_gate, materials, events,
	target_weight_kg, tapped_weight_kg, yield_percent, correction_comment,
	transferred_at, transferred_by, created_at, updated_at`

// CreateIfFurnaceFree inserts the batch only when no active batch holds the
// furnace, in a single statement so two operators cannot both win. A
// conflict error names the blocking batch.
func (s *BatchStore) CreateIfFurnaceFree(ctx context.Context, batch domain.MeltingBatch) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("batch store not initialized")
	}
	if err := batch.Validate(); err != nil {
		return err
	}
	materialsJSON, err := encodeJSON(batch.Materials)
	if err != nil {
		return fmt.Errorf("encode materials: %w", err)
	}
	eventsJSON, err := encodeJSON(batch.Events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	activeStatuses := make([]string, len(domain.ActiveBatchStatuses))
	for i, st := range domain.ActiveBatchStatuses {
		activeStatuses[i] = string(st)
	}
	createdAt := normalizeTime(batch.CreatedAt)

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO melting_batches (`+batchColumns+`)
		 SELECT $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
		 WHERE NOT EXISTS (
			SELECT 1 FROM melting_batches
			WHERE furnace = $3 AND status = ANY($17)
		 )`,
		strings.TrimSpace(batch.ID),
		strings.TrimSpace(batch.PlanID),
		strings.TrimSpace(batch.Furnace),
		strings.TrimSpace(batch.Alloy),
		string(batch.Status),
		string(batch.QCGate),
		materialsJSON,
		eventsJSON,
		batch.TargetWeightKG,
		batch.TappedWeightKG,
		batch.YieldPercent,
		strings.TrimSpace(batch.CorrectionComment),
		nullableTime(batch.TransferredAt),
		strings.TrimSpace(batch.TransferredBy),
		createdAt,
		createdAt,
		activeStatuses,
	)
	if err != nil {
		return fmt.Errorf("insert melting batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		blocking, lookupErr := s.ActiveForFurnace(ctx, batch.Furnace)
		conflict := &domain.ConflictError{
			Resource: batch.Furnace,
			Reason:   "furnace already has an active batch",
		}
		if lookupErr == nil {
			conflict.BlockedBy = blocking.ID
		}
		return conflict
	}
	return nil
}

func (s *BatchStore) Get(ctx context.Context, id string) (domain.MeltingBatch, error) {
	if s == nil || s.db == nil {
		return domain.MeltingBatch{}, fmt.Errorf("batch store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.MeltingBatch{}, fmt.Errorf("batch id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+batchColumns+` FROM melting_batches WHERE batch_id = $1`,
		id,
	)
	batch, err := scanBatch(row)
	if err != nil {
		return domain.MeltingBatch{}, handleNotFound(err)
	}
	return batch, nil
}

func (s *BatchStore) List(ctx context.Context, filter repo.BatchFilter) ([]domain.MeltingBatch, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("batch store not initialized")
	}
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 3)

	if strings.TrimSpace(filter.PlanID) != "" {
		args = append(args, strings.TrimSpace(filter.PlanID))
		clauses = append(clauses, fmt.Sprintf("plan_id = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Furnace) != "" {
		args = append(args, strings.TrimSpace(filter.Furnace))
		clauses = append(clauses, fmt.Sprintf("furnace = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + batchColumns + ` FROM melting_batches`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list melting batches: %w", err)
	}
	defer rows.Close()

	var out []domain.MeltingBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, batch)
	}
	return out, rows.Err()
}

func (s *BatchStore) ActiveForFurnace(ctx context.Context, furnace string) (domain.MeltingBatch, error) {
	if s == nil || s.db == nil {
		return domain.MeltingBatch{}, fmt.Errorf("batch store not initialized")
	}
	furnace = strings.TrimSpace(furnace)
	if furnace == "" {
		return domain.MeltingBatch{}, fmt.Errorf("furnace is required")
	}
	activeStatuses := make([]string, len(domain.ActiveBatchStatuses))
	for i, st := range domain.ActiveBatchStatuses {
		activeStatuses[i] = string(st)
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+batchColumns+` FROM melting_batches
		 WHERE furnace = $1 AND status = ANY($2)
		 ORDER BY created_at DESC LIMIT 1`,
		furnace,
		activeStatuses,
	)
	batch, err := scanBatch(row)
	if err != nil {
		return domain.MeltingBatch{}, handleNotFound(err)
	}
	return batch, nil
}

func (s *BatchStore) Update(ctx context.Context, batch domain.MeltingBatch) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("batch store not initialized")
	}
	if err := batch.Validate(); err != nil {
		return err
	}
	materialsJSON, err := encodeJSON(batch.Materials)
	if err != nil {
		return fmt.Errorf("encode materials: %w", err)
	}
	eventsJSON, err := encodeJSON(batch.Events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE melting_batches SET
			status = $2, qc_gate = $3, materials = $4, events = $5,
			target_weight_kg = $6, tapped_weight_kg = $7, yield_percent = $8,
			correction_comment = $9, transferred_at = $10, transferred_by = $11,
			updated_at = $12
		 WHERE batch_id = $1`,
		strings.TrimSpace(batch.ID),
		string(batch.Status),
		string(batch.QCGate),
		materialsJSON,
		eventsJSON,
		batch.TargetWeightKG,
		batch.TappedWeightKG,
		batch.YieldPercent,
		strings.TrimSpace(batch.CorrectionComment),
		nullableTime(batch.TransferredAt),
		strings.TrimSpace(batch.TransferredBy),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update melting batch: %w", err)
	}
	return requireAffected(res)
}

func scanBatch(row interface{ Scan(...any) error }) (domain.MeltingBatch, error) {
	var batch domain.MeltingBatch
	var status, gate string
	var materialsJSON, eventsJSON []byte
	var transferredAt sql.NullTime
	if err := row.Scan(
		&batch.ID,
		&batch.PlanID,
		&batch.Furnace,
		&batch.Alloy,
		&status,
		&gate,
		&materialsJSON,
		&eventsJSON,
		&batch.TargetWeightKG,
		&batch.TappedWeightKG,
		&batch.YieldPercent,
		&batch.CorrectionComment,
		&transferredAt,
		&batch.TransferredBy,
		&batch.CreatedAt,
		&batch.UpdatedAt,
	); err != nil {
		return domain.MeltingBatch{}, err
	}
	batch.Status = domain.BatchStatus(status)
	batch.QCGate = domain.QCGate(gate)
	batch.TransferredAt = scanTime(transferredAt)
	if err := decodeJSON(materialsJSON, &batch.Materials); err != nil {
		return domain.MeltingBatch{}, fmt.Errorf("decode materials: %w", err)
	}
	if err := decodeJSON(eventsJSON, &batch.Events); err != nil {
		return domain.MeltingBatch{}, fmt.Errorf("decode events: %w", err)
	}
	return batch, nil
}
