package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/swynix/mes-go/internal/domain"
	"github.com/swynix/mes-go/internal/platform/auditlog"
	"github.com/swynix/mes-go/internal/platform/auth"
	"github.com/swynix/mes-go/internal/repo"
	"github.com/swynix/mes-go/internal/repo/postgres"
	"github.com/swynix/mes-go/internal/schedule"
)

type planningAPI struct {
	logger *slog.Logger
	db     *sql.DB
	plans  *postgres.PlanStore
}

func newPlanningAPI(logger *slog.Logger, db *sql.DB) *planningAPI {
	return &planningAPI{
		logger: logger,
		db:     db,
		plans:  postgres.NewPlanStore(db),
	}
}

func (api *planningAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /plans", api.handleListPlans)
	mux.HandleFunc("GET /plans/{plan_id}", api.handleGetPlan)
	mux.HandleFunc("POST /plans/{plan_id}/release", api.handleReleasePlan)
	mux.HandleFunc("POST /plans/{plan_id}/cancel", api.handleCancelPlan)

	mux.HandleFunc("POST /schedule/propose", api.handlePropose)
	mux.HandleFunc("POST /schedule/commit", api.handleCommit)
	mux.HandleFunc("GET /schedule/slots", api.handleSlots)
}

type planPayload struct {
	CastNo          string  `json:"cast_no"`
	Kind            string  `json:"kind"`
	Furnace         string  `json:"furnace,omitempty"`
	Alloy           string  `json:"alloy,omitempty"`
	ProductItem     string  `json:"product_item,omitempty"`
	WidthMM         float64 `json:"width_mm,omitempty"`
	FinalGaugeMM    float64 `json:"final_gauge_mm,omitempty"`
	PlannedWeightMT float64 `json:"planned_weight_mt,omitempty"`
	DowntimeType    string  `json:"downtime_type,omitempty"`
	DowntimeReason  string  `json:"downtime_reason,omitempty"`
}

type proposeRequest struct {
	Resource string      `json:"resource"`
	Start    time.Time   `json:"start"`
	End      time.Time   `json:"end"`
	Plan     planPayload `json:"plan"`
}

type planShiftResponse struct {
	PlanID           string    `json:"plan_id"`
	OldStart         time.Time `json:"old_start"`
	OldEnd           time.Time `json:"old_end"`
	NewStart         time.Time `json:"new_start"`
	NewEnd           time.Time `json:"new_end"`
	ShiftedBySeconds int64     `json:"shifted_by_seconds"`
}

type proposeResponse struct {
	Resource          string              `json:"resource"`
	SuggestedStart    time.Time           `json:"suggested_start"`
	SuggestedEnd      time.Time           `json:"suggested_end"`
	Affected          []planShiftResponse `json:"affected"`
	ShiftDeltaSeconds int64               `json:"shift_delta_seconds"`
	ShiftFrom         *time.Time          `json:"shift_from,omitempty"`
	Fingerprint       string              `json:"fingerprint"`
}

func (api *planningAPI) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	requested, err := domain.NewInterval(req.Resource, req.Start, req.End)
	if err != nil {
		api.writeValidation(w, r, err)
		return
	}
	if requested.Start.Before(time.Now()) {
		api.writeError(w, r, http.StatusBadRequest, "start_in_past")
		return
	}

	existing, err := api.plans.ListForResource(r.Context(), requested.Resource)
	if err != nil {
		api.logger.Error("list plans failed", "error", err, "request_id", r.Header.Get("X-Request-Id"))
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	proposal, err := schedule.ProposeInsertion(requested.Resource, requested, existing, time.Now())
	if err != nil {
		api.writePlannerError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, proposalResponse(proposal))
}

type commitRequest struct {
	Resource    string      `json:"resource"`
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	Fingerprint string      `json:"fingerprint"`
	Plan        planPayload `json:"plan"`
}

func (api *planningAPI) handleCommit(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	var req commitRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	requested, err := domain.NewInterval(req.Resource, req.Start, req.End)
	if err != nil {
		api.writeValidation(w, r, err)
		return
	}
	if strings.TrimSpace(req.Fingerprint) == "" {
		api.writeError(w, r, http.StatusBadRequest, "fingerprint_required")
		return
	}

	tx, err := api.db.BeginTx(r.Context(), &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer func() { _ = tx.Rollback() }()

	txPlans := postgres.NewPlanStore(tx)
	existing, err := txPlans.ListForResource(r.Context(), requested.Resource)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	// The proposal is recomputed against the transaction's view; a changed
	// fingerprint means the schedule moved since the operator previewed it.
	if err := schedule.ValidateCommit(schedule.Proposal{Fingerprint: req.Fingerprint}, existing); err != nil {
		api.writeError(w, r, http.StatusConflict, "stale_proposal")
		return
	}
	proposal, err := schedule.ProposeInsertion(requested.Resource, requested, existing, time.Now())
	if err != nil {
		api.writePlannerError(w, r, err)
		return
	}

	now := time.Now().UTC()
	plan := domain.ScheduledPlan{
		ID:              uuid.NewString(),
		CastNo:          strings.TrimSpace(req.Plan.CastNo),
		Kind:            domain.PlanKind(strings.TrimSpace(req.Plan.Kind)),
		Interval:        proposal.Suggested,
		SequenceRank:    now.UnixNano(),
		Status:          domain.PlanStatusPlanned,
		Furnace:         strings.TrimSpace(req.Plan.Furnace),
		Alloy:           strings.TrimSpace(req.Plan.Alloy),
		ProductItem:     strings.TrimSpace(req.Plan.ProductItem),
		WidthMM:         req.Plan.WidthMM,
		FinalGaugeMM:    req.Plan.FinalGaugeMM,
		PlannedWeightMT: req.Plan.PlannedWeightMT,
		DowntimeType:    strings.TrimSpace(req.Plan.DowntimeType),
		DowntimeReason:  strings.TrimSpace(req.Plan.DowntimeReason),
		CreatedAt:       now,
	}
	if err := plan.Validate(); err != nil {
		api.writeValidation(w, r, err)
		return
	}

	shiftedIDs := make([]string, 0, len(proposal.Affected))
	for _, shift := range proposal.Affected {
		if err := txPlans.UpdateInterval(r.Context(), shift.PlanID, shift.To); err != nil {
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		shiftedIDs = append(shiftedIDs, shift.PlanID)
	}
	if err := txPlans.Create(r.Context(), plan); err != nil {
		if isUniqueViolation(err) {
			api.writeError(w, r, http.StatusConflict, "cast_no_exists")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	_, err = auditlog.InsertScheduleCommit(
		r.Context(), tx,
		proposal.Resource, plan.ID, shiftedIDs, proposal.ShiftDelta,
		identity.Subject, r.Header.Get("X-Request-Id"),
	)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}

	if err := tx.Commit(); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	w.Header().Set("Location", "/plans/"+plan.ID)
	api.writeJSON(w, http.StatusCreated, map[string]any{
		"plan_id":             plan.ID,
		"start":               plan.Interval.Start,
		"end":                 plan.Interval.End,
		"shifted_plan_ids":    shiftedIDs,
		"shift_delta_seconds": int64(proposal.ShiftDelta / time.Second),
	})
}

func (api *planningAPI) handleSlots(w http.ResponseWriter, r *http.Request) {
	resource := strings.TrimSpace(r.URL.Query().Get("resource"))
	if resource == "" {
		api.writeError(w, r, http.StatusBadRequest, "resource_required")
		return
	}
	from, err := parseTimeQuery(r, "from", time.Now().UTC())
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_from")
		return
	}
	to, err := parseTimeQuery(r, "to", from.Add(7*24*time.Hour))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_to")
		return
	}
	minMinutes := clampInt(parseIntQuery(r, "min_minutes", 60), 1, 7*24*60)

	existing, err := api.plans.ListForResource(r.Context(), resource)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	slots := schedule.AvailableSlots(existing, from, to, time.Duration(minMinutes)*time.Minute)

	type slotResponse struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	}
	out := make([]slotResponse, 0, len(slots))
	for _, slot := range slots {
		out = append(out, slotResponse{Start: slot.Start, End: slot.End})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"resource": resource,
		"slots":    out,
	})
}

func (api *planningAPI) handleListPlans(w http.ResponseWriter, r *http.Request) {
	filter := repo.PlanFilter{
		Resource: strings.TrimSpace(r.URL.Query().Get("resource")),
		Status:   domain.PlanStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
		Kind:     domain.PlanKind(strings.TrimSpace(r.URL.Query().Get("kind"))),
		Limit:    clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	}
	plans, err := api.plans.List(r.Context(), filter)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]map[string]any, 0, len(plans))
	for _, plan := range plans {
		out = append(out, planResponse(plan))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"plans": out})
}

func (api *planningAPI) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := api.plans.Get(r.Context(), r.PathValue("plan_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "plan_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, planResponse(plan))
}

func (api *planningAPI) handleReleasePlan(w http.ResponseWriter, r *http.Request) {
	api.transitionPlan(w, r, domain.PlanStatusReleased)
}

func (api *planningAPI) handleCancelPlan(w http.ResponseWriter, r *http.Request) {
	api.transitionPlan(w, r, domain.PlanStatusCancelled)
}

func (api *planningAPI) transitionPlan(w http.ResponseWriter, r *http.Request, next domain.PlanStatus) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	plan, err := api.plans.Get(r.Context(), r.PathValue("plan_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "plan_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	if err := plan.TransitionTo(next); err != nil {
		var rejection *domain.GuardRejection
		if errors.As(err, &rejection) {
			if _, auditErr := auditlog.InsertGuardRejection(r.Context(), api.db, "planning", rejection, identity.Subject, r.Header.Get("X-Request-Id")); auditErr != nil {
				api.logger.Warn("audit guard rejection failed", "error", auditErr)
			}
			api.writeGuardRejection(w, r, rejection)
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	if err := api.plans.UpdateStatus(r.Context(), plan.ID, plan.Status); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, planResponse(plan))
}

func proposalResponse(proposal schedule.Proposal) proposeResponse {
	affected := make([]planShiftResponse, 0, len(proposal.Affected))
	for _, shift := range proposal.Affected {
		affected = append(affected, planShiftResponse{
			PlanID:           shift.PlanID,
			OldStart:         shift.From.Start,
			OldEnd:           shift.From.End,
			NewStart:         shift.To.Start,
			NewEnd:           shift.To.End,
			ShiftedBySeconds: int64(shift.ShiftedBy / time.Second),
		})
	}
	out := proposeResponse{
		Resource:          proposal.Resource,
		SuggestedStart:    proposal.Suggested.Start,
		SuggestedEnd:      proposal.Suggested.End,
		Affected:          affected,
		ShiftDeltaSeconds: int64(proposal.ShiftDelta / time.Second),
		Fingerprint:       proposal.Fingerprint,
	}
	if !proposal.ShiftFrom.IsZero() {
		shiftFrom := proposal.ShiftFrom
		out.ShiftFrom = &shiftFrom
	}
	return out
}

func planResponse(plan domain.ScheduledPlan) map[string]any {
	out := map[string]any{
		"plan_id":       plan.ID,
		"cast_no":       plan.CastNo,
		"kind":          string(plan.Kind),
		"resource":      plan.Interval.Resource,
		"start":         plan.Interval.Start,
		"end":           plan.Interval.End,
		"sequence_rank": plan.SequenceRank,
		"status":        string(plan.Status),
		"created_at":    plan.CreatedAt,
		"updated_at":    plan.UpdatedAt,
	}
	switch plan.Kind {
	case domain.PlanKindCasting:
		out["furnace"] = plan.Furnace
		out["alloy"] = plan.Alloy
		out["product_item"] = plan.ProductItem
		out["width_mm"] = plan.WidthMM
		out["final_gauge_mm"] = plan.FinalGaugeMM
		out["planned_weight_mt"] = plan.PlannedWeightMT
	case domain.PlanKindDowntime:
		out["downtime_type"] = plan.DowntimeType
		out["downtime_reason"] = plan.DowntimeReason
	}
	if plan.MeltingBatchID != "" {
		out["melting_batch_id"] = plan.MeltingBatchID
	}
	return out
}

func (api *planningAPI) writePlannerError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		api.writeValidation(w, r, err)
		return
	}
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		api.writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "schedule_conflict",
			"blocked_by": conflict.BlockedBy,
			"reason":     conflict.Reason,
			"request_id": r.Header.Get("X-Request-Id"),
		})
		return
	}
	if errors.Is(err, schedule.ErrStaleProposal) {
		api.writeError(w, r, http.StatusConflict, "stale_proposal")
		return
	}
	api.writeError(w, r, http.StatusInternalServerError, "internal_error")
}

func (api *planningAPI) writeValidation(w http.ResponseWriter, r *http.Request, err error) {
	api.writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":      "validation_failed",
		"detail":     err.Error(),
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func (api *planningAPI) writeGuardRejection(w http.ResponseWriter, r *http.Request, rejection *domain.GuardRejection) {
	api.writeJSON(w, http.StatusConflict, map[string]any{
		"error":      "transition_rejected",
		"aggregate":  rejection.Aggregate,
		"id":         rejection.ID,
		"transition": rejection.Transition,
		"current":    rejection.Current,
		"required":   rejection.Required,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func (api *planningAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *planningAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func parseTimeQuery(r *http.Request, key string, def time.Time) (time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, v)
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
