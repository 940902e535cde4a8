package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/swynix/mes-go/internal/domain"
	"github.com/swynix/mes-go/internal/repo"
)

func TestBuildPlanListQueryNoFilter(t *testing.T) {
	query, args := buildPlanListQuery(repo.PlanFilter{})
	if len(args) != 0 {
		t.Fatalf("expected no args, got %v", args)
	}
	if strings.Contains(query, "WHERE") {
		t.Fatalf("expected no WHERE clause, got %s", query)
	}
	if !strings.Contains(query, "ORDER BY start_at ASC, sequence_rank ASC") {
		t.Fatalf("expected deterministic ordering, got %s", query)
	}
}

func TestBuildPlanListQueryWithResourceAndStatus(t *testing.T) {
	query, args := buildPlanListQuery(repo.PlanFilter{
		Resource: "CASTER-1",
		Status:   domain.PlanStatusReleased,
	})
	if len(args) != 2 || args[0] != "CASTER-1" {
		t.Fatalf("expected resource as first arg, got %v", args)
	}
	if !strings.Contains(query, "resource = $1") {
		t.Fatalf("expected resource predicate, got %s", query)
	}
	if !strings.Contains(query, "status = $2") {
		t.Fatalf("expected status predicate, got %s", query)
	}
}

func TestBuildPlanListQueryWithWindowAndLimit(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	query, args := buildPlanListQuery(repo.PlanFilter{From: from, To: to, Limit: 50})
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(args))
	}
	if !strings.Contains(query, "end_at > $1") || !strings.Contains(query, "start_at < $2") {
		t.Fatalf("expected window predicates, got %s", query)
	}
	if !strings.Contains(query, "LIMIT $3") {
		t.Fatalf("expected limit, got %s", query)
	}
}
