package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/swynix/mes-go/internal/composition"
)

type RuleSetStore struct {
	db DB
}

func NewRuleSetStore(db DB) *RuleSetStore {
	if db == nil {
		return nil
	}
	return &RuleSetStore{db: db}
}

func (s *RuleSetStore) Create(ctx context.Context, alloy string, set composition.RuleSet, active bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("rule set store not initialized")
	}
	alloy = strings.TrimSpace(alloy)
	if alloy == "" {
		return fmt.Errorf("alloy is required")
	}
	if err := set.Validate(); err != nil {
		return err
	}
	if set.Alloy != alloy {
		return fmt.Errorf("rule set alloy %q does not match %q", set.Alloy, alloy)
	}
	rulesJSON, err := json.Marshal(set.Rules)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO composition_rule_sets (alloy, revision_no, schema, rules, is_active, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		alloy,
		set.RevisionNo,
		set.Schema,
		rulesJSON,
		active,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert rule set: %w", err)
	}
	return nil
}

// Active returns the highest active revision for the alloy; evaluation
// always runs against this one.
func (s *RuleSetStore) Active(ctx context.Context, alloy string) (composition.RuleSet, error) {
	if s == nil || s.db == nil {
		return composition.RuleSet{}, fmt.Errorf("rule set store not initialized")
	}
	alloy = strings.TrimSpace(alloy)
	if alloy == "" {
		return composition.RuleSet{}, fmt.Errorf("alloy is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT alloy, revision_no, schema, rules FROM composition_rule_sets
		 WHERE alloy = $1 AND is_active
		 ORDER BY revision_no DESC LIMIT 1`,
		alloy,
	)
	return scanRuleSet(row)
}

func (s *RuleSetStore) Get(ctx context.Context, alloy string, revision int) (composition.RuleSet, error) {
	if s == nil || s.db == nil {
		return composition.RuleSet{}, fmt.Errorf("rule set store not initialized")
	}
	alloy = strings.TrimSpace(alloy)
	if alloy == "" {
		return composition.RuleSet{}, fmt.Errorf("alloy is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT alloy, revision_no, schema, rules FROM composition_rule_sets
		 WHERE alloy = $1 AND revision_no = $2`,
		alloy,
		revision,
	)
	return scanRuleSet(row)
}

func (s *RuleSetStore) Deactivate(ctx context.Context, alloy string, revision int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("rule set store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE composition_rule_sets SET is_active = FALSE
		 WHERE alloy = $1 AND revision_no = $2`,
		strings.TrimSpace(alloy),
		revision,
	)
	if err != nil {
		return fmt.Errorf("deactivate rule set: %w", err)
	}
	return requireAffected(res)
}

func scanRuleSet(row interface{ Scan(...any) error }) (composition.RuleSet, error) {
	var set composition.RuleSet
	var rulesJSON []byte
	if err := row.Scan(&set.Alloy, &set.RevisionNo, &set.Schema, &rulesJSON); err != nil {
		return composition.RuleSet{}, handleNotFound(err)
	}
	if err := json.Unmarshal(rulesJSON, &set.Rules); err != nil {
		return composition.RuleSet{}, fmt.Errorf("decode rules: %w", err)
	}
	return set, nil
}
