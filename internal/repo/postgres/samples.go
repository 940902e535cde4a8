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

type SampleStore struct {
	db DB
}

func NewSampleStore(db DB) *SampleStore {
	if db == nil {
		return nil
	}
	return &SampleStore{db: db}
}

const sampleColumns = `sample_id, batch_id, sample_no, status, readings,
	drawn_at, drawn_by, submitted_at, submitted_by, reviewed_at, reviewed_by,
	verdict, deviations, raw_payload_key`

func (s *SampleStore) Create(ctx context.Context, sample domain.Sample) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sample store not initialized")
	}
	if err := sample.Validate(); err != nil {
		return err
	}
	readingsJSON, err := encodeJSON(sample.Readings)
	if err != nil {
		return fmt.Errorf("encode readings: %w", err)
	}
	deviationsJSON, err := encodeJSON(sample.Deviations)
	if err != nil {
		return fmt.Errorf("encode deviations: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO samples (`+sampleColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		strings.TrimSpace(sample.ID),
		strings.TrimSpace(sample.BatchID),
		strings.TrimSpace(sample.SampleNo),
		string(sample.Status),
		readingsJSON,
		normalizeTime(sample.DrawnAt),
		strings.TrimSpace(sample.DrawnBy),
		nullableTime(sample.SubmittedAt),
		strings.TrimSpace(sample.SubmittedBy),
		nullableTime(sample.ReviewedAt),
		strings.TrimSpace(sample.ReviewedBy),
		strings.TrimSpace(sample.Verdict),
		deviationsJSON,
		strings.TrimSpace(sample.RawPayloadKey),
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

func (s *SampleStore) Get(ctx context.Context, id string) (domain.Sample, error) {
	if s == nil || s.db == nil {
		return domain.Sample{}, fmt.Errorf("sample store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Sample{}, fmt.Errorf("sample id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+sampleColumns+` FROM samples WHERE sample_id = $1`,
		id,
	)
	sample, err := scanSample(row)
	if err != nil {
		return domain.Sample{}, handleNotFound(err)
	}
	return sample, nil
}

func (s *SampleStore) List(ctx context.Context, filter repo.SampleFilter) ([]domain.Sample, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sample store not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)

	if strings.TrimSpace(filter.BatchID) != "" {
		args = append(args, strings.TrimSpace(filter.BatchID))
		clauses = append(clauses, fmt.Sprintf("batch_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + sampleColumns + ` FROM samples`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY drawn_at ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var out []domain.Sample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}

func (s *SampleStore) CountForBatch(ctx context.Context, batchID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sample store not initialized")
	}
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return 0, fmt.Errorf("batch id is required")
	}
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM samples WHERE batch_id = $1`,
		batchID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return count, nil
}

func (s *SampleStore) Update(ctx context.Context, sample domain.Sample) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sample store not initialized")
	}
	if err := sample.Validate(); err != nil {
		return err
	}
	readingsJSON, err := encodeJSON(sample.Readings)
	if err != nil {
		return fmt.Errorf("encode readings: %w", err)
	}
	deviationsJSON, err := encodeJSON(sample.Deviations)
	if err != nil {
		return fmt.Errorf("encode deviations: %w", err)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE samples SET
			status = $2, readings = $3, submitted_at = $4, submitted_by = $5,
			reviewed_at = $6, reviewed_by = $7, verdict = $8, deviations = $9,
			raw_payload_key = $10, updated_at = $11
		 WHERE sample_id = $1`,
		strings.TrimSpace(sample.ID),
		string(sample.Status),
		readingsJSON,
		nullableTime(sample.SubmittedAt),
		strings.TrimSpace(sample.SubmittedBy),
		nullableTime(sample.ReviewedAt),
		strings.TrimSpace(sample.ReviewedBy),
		strings.TrimSpace(sample.Verdict),
		deviationsJSON,
		strings.TrimSpace(sample.RawPayloadKey),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update sample: %w", err)
	}
	return requireAffected(res)
}

func scanSample(row interface{ Scan(...any) error }) (domain.Sample, error) {
	var sample domain.Sample
	var status string
	var readingsJSON, deviationsJSON []byte
	var submittedAt, reviewedAt sql.NullTime
	if err := row.Scan(
		&sample.ID,
		&sample.BatchID,
		&sample.SampleNo,
		&status,
		&readingsJSON,
		&sample.DrawnAt,
		&sample.DrawnBy,
		&submittedAt,
		&sample.SubmittedBy,
		&reviewedAt,
		&sample.ReviewedBy,
		&sample.Verdict,
		&deviationsJSON,
		&sample.RawPayloadKey,
	); err != nil {
		return domain.Sample{}, err
	}
	sample.Status = domain.SampleStatus(status)
	sample.SubmittedAt = scanTime(submittedAt)
	sample.ReviewedAt = scanTime(reviewedAt)
	if err := decodeJSON(readingsJSON, &sample.Readings); err != nil {
		return domain.Sample{}, fmt.Errorf("decode readings: %w", err)
	}
	if err := decodeJSON(deviationsJSON, &sample.Deviations); err != nil {
		return domain.Sample{}, fmt.Errorf("decode deviations: %w", err)
	}
	return sample, nil
}
