package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/swynix/mes-go/internal/domain"
	"github.com/swynix/mes-go/internal/repo"
)

type RunStore struct {
	db DB
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

const runColumns = `run_id, plan_id, cast_no, caster, status, coils, total_kg,
	started_at, started_by, finished_at, finished_by`

const coilColumns = `coil_id, run_id, temp_id, final_id, sequence, qc_status,
	weight_kg, gauge_mm, width_mm, cut_at, cut_by, finalized_at, finalized_by, reject_note`

func (s *RunStore) CreateRun(ctx context.Context, run domain.CastingRun) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO casting_runs (`+runColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.PlanID),
		strings.TrimSpace(run.CastNo),
		strings.TrimSpace(run.Caster),
		string(run.Status),
		run.Coils,
		run.TotalKG,
		normalizeTime(run.StartedAt),
		strings.TrimSpace(run.StartedBy),
		nullableTime(run.FinishedAt),
		strings.TrimSpace(run.FinishedBy),
	)
	if err != nil {
		return fmt.Errorf("insert casting run: %w", err)
	}
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, id string) (domain.CastingRun, error) {
	if s == nil || s.db == nil {
		return domain.CastingRun{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.CastingRun{}, fmt.Errorf("run id is required")
	}
	var run domain.CastingRun
	var status string
	var finishedAt sql.NullTime
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+runColumns+` FROM casting_runs WHERE run_id = $1`,
		id,
	)
	if err := row.Scan(
		&run.ID,
		&run.PlanID,
		&run.CastNo,
		&run.Caster,
		&status,
		&run.Coils,
		&run.TotalKG,
		&run.StartedAt,
		&run.StartedBy,
		&finishedAt,
		&run.FinishedBy,
	); err != nil {
		return domain.CastingRun{}, handleNotFound(err)
	}
	run.Status = domain.RunStatus(status)
	run.FinishedAt = scanTime(finishedAt)
	return run, nil
}

func (s *RunStore) UpdateRun(ctx context.Context, run domain.CastingRun) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE casting_runs SET
			status = $2, coils = $3, total_kg = $4, finished_at = $5, finished_by = $6
		 WHERE run_id = $1`,
		strings.TrimSpace(run.ID),
		string(run.Status),
		run.Coils,
		run.TotalKG,
		nullableTime(run.FinishedAt),
		strings.TrimSpace(run.FinishedBy),
	)
	if err != nil {
		return fmt.Errorf("update casting run: %w", err)
	}
	return requireAffected(res)
}

func (s *RunStore) CreateCoil(ctx context.Context, coil domain.Coil) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := coil.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO coils (`+coilColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		strings.TrimSpace(coil.ID),
		strings.TrimSpace(coil.RunID),
		strings.TrimSpace(coil.TempID),
		nullableText(coil.FinalID),
		coil.Sequence,
		string(coil.QCStatus),
		coil.WeightKG,
		coil.GaugeMM,
		coil.WidthMM,
		normalizeTime(coil.CutAt),
		strings.TrimSpace(coil.CutBy),
		nullableTime(coil.FinalizedAt),
		strings.TrimSpace(coil.FinalizedBy),
		strings.TrimSpace(coil.RejectNote),
	)
	if err != nil {
		return fmt.Errorf("insert coil: %w", err)
	}
	return nil
}

func (s *RunStore) GetCoil(ctx context.Context, id string) (domain.Coil, error) {
	if s == nil || s.db == nil {
		return domain.Coil{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Coil{}, fmt.Errorf("coil id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+coilColumns+` FROM coils WHERE coil_id = $1`,
		id,
	)
	coil, err := scanCoil(row)
	if err != nil {
		return domain.Coil{}, handleNotFound(err)
	}
	return coil, nil
}

func (s *RunStore) ListCoils(ctx context.Context, filter repo.CoilFilter) ([]domain.Coil, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)

	if strings.TrimSpace(filter.RunID) != "" {
		args = append(args, strings.TrimSpace(filter.RunID))
		clauses = append(clauses, fmt.Sprintf("run_id = $%d", len(args)))
	}
	if filter.QCStatus != "" {
		args = append(args, string(filter.QCStatus))
		clauses = append(clauses, fmt.Sprintf("qc_status = $%d", len(args)))
	}

	query := `SELECT ` + coilColumns + ` FROM coils`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY sequence ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list coils: %w", err)
	}
	defer rows.Close()

	var out []domain.Coil
	for rows.Next() {
		coil, err := scanCoil(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, coil)
	}
	return out, rows.Err()
}

func (s *RunStore) UpdateCoil(ctx context.Context, coil domain.Coil) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := coil.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE coils SET
			final_id = $2, qc_status = $3, weight_kg = $4, gauge_mm = $5, width_mm = $6,
			finalized_at = $7, finalized_by = $8, reject_note = $9
		 WHERE coil_id = $1`,
		strings.TrimSpace(coil.ID),
		nullableText(coil.FinalID),
		string(coil.QCStatus),
		coil.WeightKG,
		coil.GaugeMM,
		coil.WidthMM,
		nullableTime(coil.FinalizedAt),
		strings.TrimSpace(coil.FinalizedBy),
		strings.TrimSpace(coil.RejectNote),
	)
	if err != nil {
		return fmt.Errorf("update coil: %w", err)
	}
	return requireAffected(res)
}

func (s *RunStore) NextCoilSequence(ctx context.Context, runID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("run store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return 0, fmt.Errorf("run id is required")
	}
	var next int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM coils WHERE run_id = $1`,
		runID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next coil sequence: %w", err)
	}
	return next, nil
}

func scanCoil(row interface{ Scan(...any) error }) (domain.Coil, error) {
	var coil domain.Coil
	var qcStatus string
	var finalID sql.NullString
	var finalizedAt sql.NullTime
	if err := row.Scan(
		&coil.ID,
		&coil.RunID,
		&coil.TempID,
		&finalID,
		&coil.Sequence,
		&qcStatus,
		&coil.WeightKG,
		&coil.GaugeMM,
		&coil.WidthMM,
		&coil.CutAt,
		&coil.CutBy,
		&finalizedAt,
		&coil.FinalizedBy,
		&coil.RejectNote,
	); err != nil {
		return domain.Coil{}, err
	}
	coil.QCStatus = domain.CoilQCStatus(qcStatus)
	coil.FinalizedAt = scanTime(finalizedAt)
	if finalID.Valid {
		coil.FinalID = finalID.String
	}
	return coil, nil
}
