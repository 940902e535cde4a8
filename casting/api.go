package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/swynix/mes-go/internal/domain"
	"github.com/swynix/mes-go/internal/platform/auditlog"
	"github.com/swynix/mes-go/internal/platform/auth"
	"github.com/swynix/mes-go/internal/repo"
	"github.com/swynix/mes-go/internal/repo/postgres"
)

type castingAPI struct {
	logger *slog.Logger
	db     *sql.DB
	runs   *postgres.RunStore
	plans  *postgres.PlanStore
}

func newCastingAPI(logger *slog.Logger, db *sql.DB) *castingAPI {
	return &castingAPI{
		logger: logger,
		db:     db,
		runs:   postgres.NewRunStore(db),
		plans:  postgres.NewPlanStore(db),
	}
}

func (api *castingAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /runs", api.handleStartRun)
	mux.HandleFunc("GET /runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("POST /runs/{run_id}/coils", api.handleCutCoil)
	mux.HandleFunc("GET /runs/{run_id}/coils", api.handleListCoils)
	mux.HandleFunc("POST /runs/{run_id}/finish", api.handleFinishRun)
	mux.HandleFunc("POST /runs/{run_id}/abort", api.handleAbortRun)

	mux.HandleFunc("POST /coils/{coil_id}/qc", api.handleCoilQC)
	mux.HandleFunc("POST /coils/{coil_id}/finalize", api.handleFinalizeCoil)
}

type startRunRequest struct {
	PlanID string `json:"plan_id"`
}

func (api *castingAPI) handleStartRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	var req startRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	plan, err := api.plans.Get(r.Context(), req.PlanID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "plan_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if err := plan.TransitionTo(domain.PlanStatusCasting); err != nil {
		api.writeDomainError(w, r, identity.Subject, err)
		return
	}

	now := time.Now().UTC()
	run := domain.CastingRun{
		ID:        uuid.NewString(),
		PlanID:    plan.ID,
		CastNo:    plan.CastNo,
		Caster:    plan.Interval.Resource,
		Status:    domain.RunStatusCasting,
		StartedAt: now,
		StartedBy: identity.Subject,
	}

	tx, err := api.db.BeginTx(r.Context(), nil)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer func() { _ = tx.Rollback() }()

	txRuns := postgres.NewRunStore(tx)
	txPlans := postgres.NewPlanStore(tx)
	if err := txRuns.CreateRun(r.Context(), run); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if err := txPlans.UpdateStatus(r.Context(), plan.ID, plan.Status); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	_, err = auditlog.Insert(r.Context(), tx, auditlog.Event{
		OccurredAt:   now,
		Actor:        identity.Subject,
		Action:       "casting_run.start",
		ResourceType: "casting_run",
		ResourceID:   run.ID,
		RequestID:    r.Header.Get("X-Request-Id"),
		Payload: map[string]any{
			"service": "casting",
			"plan_id": plan.ID,
			"cast_no": run.CastNo,
			"caster":  run.Caster,
		},
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}
	if err := tx.Commit(); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	w.Header().Set("Location", "/runs/"+run.ID)
	api.writeJSON(w, http.StatusCreated, runResponse(run))
}

type cutCoilRequest struct {
	GaugeMM float64 `json:"gauge_mm,omitempty"`
	WidthMM float64 `json:"width_mm,omitempty"`
}

func (api *castingAPI) handleCutCoil(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	var req cutCoilRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	run, err := api.runs.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "run_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if run.Status != domain.RunStatusCasting {
		api.writeGuardRejection(w, r, &domain.GuardRejection{
			Aggregate:  "casting_run",
			ID:         run.ID,
			Transition: "cut_coil",
			Current:    string(run.Status),
			Required:   string(domain.RunStatusCasting),
		})
		return
	}

	sequence, err := api.runs.NextCoilSequence(r.Context(), run.ID)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	now := time.Now().UTC()
	coil := domain.Coil{
		ID:       uuid.NewString(),
		RunID:    run.ID,
		TempID:   domain.TempCoilID(run.CastNo, sequence),
		Sequence: sequence,
		QCStatus: domain.CoilQCPending,
		GaugeMM:  req.GaugeMM,
		WidthMM:  req.WidthMM,
		CutAt:    now,
		CutBy:    identity.Subject,
	}
	if err := api.runs.CreateCoil(r.Context(), coil); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	w.Header().Set("Location", "/coils/"+coil.ID)
	api.writeJSON(w, http.StatusCreated, coilResponse(coil))
}

type coilQCRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note,omitempty"`
}

func (api *castingAPI) handleCoilQC(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	var req coilQCRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	coil, err := api.runs.GetCoil(r.Context(), r.PathValue("coil_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "coil_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if coil.QCStatus != domain.CoilQCPending {
		api.writeGuardRejection(w, r, &domain.GuardRejection{
			Aggregate:  "coil",
			ID:         coil.ID,
			Transition: "qc_decision",
			Current:    string(coil.QCStatus),
			Required:   string(domain.CoilQCPending),
		})
		return
	}

	switch strings.ToLower(strings.TrimSpace(req.Decision)) {
	case "approve":
		coil.QCStatus = domain.CoilQCApproved
	case "reject":
		coil.QCStatus = domain.CoilQCRejected
		coil.RejectNote = strings.TrimSpace(req.Note)
	default:
		api.writeError(w, r, http.StatusBadRequest, "invalid_decision")
		return
	}

	if err := api.runs.UpdateCoil(r.Context(), coil); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, coilResponse(coil))
}

type finalizeCoilRequest struct {
	FinalID  string  `json:"final_id"`
	WeightKG float64 `json:"weight_kg"`
}

func (api *castingAPI) handleFinalizeCoil(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	var req finalizeCoilRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	coil, err := api.runs.GetCoil(r.Context(), r.PathValue("coil_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "coil_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	if err := coil.Finalize(req.FinalID, req.WeightKG, identity.Subject, time.Now().UTC()); err != nil {
		api.writeDomainError(w, r, identity.Subject, err)
		return
	}
	if err := api.runs.UpdateCoil(r.Context(), coil); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, coilResponse(coil))
}

func (api *castingAPI) handleFinishRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	run, err := api.runs.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "run_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	coils, err := api.runs.ListCoils(r.Context(), repo.CoilFilter{RunID: run.ID})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	// Every coil needs a QC decision before the run closes; one undecided
	// coil holds the whole cast open.
	approved := 0
	var totalKG float64
	for _, coil := range coils {
		if err := coil.GuardFinish(); err != nil {
			api.writeDomainError(w, r, identity.Subject, err)
			return
		}
		if coil.QCStatus == domain.CoilQCApproved {
			approved++
			totalKG += coil.WeightKG
		}
	}

	if err := run.TransitionTo(domain.RunStatusFinished); err != nil {
		api.writeDomainError(w, r, identity.Subject, err)
		return
	}

	now := time.Now().UTC()
	run.Coils = approved
	run.TotalKG = totalKG
	run.FinishedAt = now
	run.FinishedBy = identity.Subject

	planStatus := domain.PlanStatusCoilsComplete
	if approved == 0 {
		planStatus = domain.PlanStatusNotProduced
	}

	tx, err := api.db.BeginTx(r.Context(), nil)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer func() { _ = tx.Rollback() }()

	txRuns := postgres.NewRunStore(tx)
	txPlans := postgres.NewPlanStore(tx)
	if err := txRuns.UpdateRun(r.Context(), run); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if err := txPlans.UpdateStatus(r.Context(), run.PlanID, planStatus); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	_, err = auditlog.Insert(r.Context(), tx, auditlog.Event{
		OccurredAt:   now,
		Actor:        identity.Subject,
		Action:       "casting_run.finish",
		ResourceType: "casting_run",
		ResourceID:   run.ID,
		RequestID:    r.Header.Get("X-Request-Id"),
		Payload: map[string]any{
			"service":        "casting",
			"plan_id":        run.PlanID,
			"coils_approved": approved,
			"total_kg":       totalKG,
			"plan_status":    string(planStatus),
		},
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}
	if err := tx.Commit(); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.writeJSON(w, http.StatusOK, runResponse(run))
}

func (api *castingAPI) handleAbortRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	run, err := api.runs.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "run_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if err := run.TransitionTo(domain.RunStatusAborted); err != nil {
		api.writeDomainError(w, r, identity.Subject, err)
		return
	}

	now := time.Now().UTC()
	run.FinishedAt = now
	run.FinishedBy = identity.Subject

	tx, err := api.db.BeginTx(r.Context(), nil)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer func() { _ = tx.Rollback() }()

	txRuns := postgres.NewRunStore(tx)
	txPlans := postgres.NewPlanStore(tx)
	if err := txRuns.UpdateRun(r.Context(), run); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if err := txPlans.UpdateStatus(r.Context(), run.PlanID, domain.PlanStatusNotProduced); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if err := tx.Commit(); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, runResponse(run))
}

func (api *castingAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := api.runs.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "run_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, runResponse(run))
}

func (api *castingAPI) handleListCoils(w http.ResponseWriter, r *http.Request) {
	coils, err := api.runs.ListCoils(r.Context(), repo.CoilFilter{RunID: r.PathValue("run_id")})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]map[string]any, 0, len(coils))
	for _, coil := range coils {
		out = append(out, coilResponse(coil))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"coils": out})
}

func runResponse(run domain.CastingRun) map[string]any {
	out := map[string]any{
		"run_id":     run.ID,
		"plan_id":    run.PlanID,
		"cast_no":    run.CastNo,
		"caster":     run.Caster,
		"status":     string(run.Status),
		"coils":      run.Coils,
		"total_kg":   run.TotalKG,
		"started_at": run.StartedAt,
		"started_by": run.StartedBy,
	}
	if !run.FinishedAt.IsZero() {
		out["finished_at"] = run.FinishedAt
		out["finished_by"] = run.FinishedBy
	}
	return out
}

func coilResponse(coil domain.Coil) map[string]any {
	out := map[string]any{
		"coil_id":   coil.ID,
		"run_id":    coil.RunID,
		"temp_id":   coil.TempID,
		"sequence":  coil.Sequence,
		"qc_status": string(coil.QCStatus),
		"cut_at":    coil.CutAt,
		"cut_by":    coil.CutBy,
	}
	if coil.GaugeMM > 0 {
		out["gauge_mm"] = coil.GaugeMM
	}
	if coil.WidthMM > 0 {
		out["width_mm"] = coil.WidthMM
	}
	if coil.FinalID != "" {
		out["final_id"] = coil.FinalID
		out["weight_kg"] = coil.WeightKG
		out["finalized_at"] = coil.FinalizedAt
		out["finalized_by"] = coil.FinalizedBy
	}
	if coil.RejectNote != "" {
		out["reject_note"] = coil.RejectNote
	}
	return out
}

func (api *castingAPI) writeDomainError(w http.ResponseWriter, r *http.Request, actor string, err error) {
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		api.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "validation_failed",
			"detail":     err.Error(),
			"request_id": r.Header.Get("X-Request-Id"),
		})
		return
	}
	var rejection *domain.GuardRejection
	if errors.As(err, &rejection) {
		if _, auditErr := auditlog.InsertGuardRejection(r.Context(), api.db, "casting", rejection, actor, r.Header.Get("X-Request-Id")); auditErr != nil {
			api.logger.Warn("audit guard rejection failed", "error", auditErr)
		}
		api.writeGuardRejection(w, r, rejection)
		return
	}
	api.writeError(w, r, http.StatusInternalServerError, "internal_error")
}

func (api *castingAPI) writeGuardRejection(w http.ResponseWriter, r *http.Request, rejection *domain.GuardRejection) {
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

func (api *castingAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *castingAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
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
