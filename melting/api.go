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

	"github.com/swynix/mes-go/internal/domain"
	"github.com/swynix/mes-go/internal/platform/auditlog"
	"github.com/swynix/mes-go/internal/platform/auth"
	"github.com/swynix/mes-go/internal/repo"
	"github.com/swynix/mes-go/internal/repo/postgres"
)

type meltingAPI struct {
	logger  *slog.Logger
	db      *sql.DB
	batches *postgres.BatchStore
	plans   *postgres.PlanStore
}

func newMeltingAPI(logger *slog.Logger, db *sql.DB) *meltingAPI {
	return &meltingAPI{
		logger:  logger,
		db:      db,
		batches: postgres.NewBatchStore(db),
		plans:   postgres.NewPlanStore(db),
	}
}

func (api *meltingAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /batches", api.handleCreateBatch)
	mux.HandleFunc("GET /batches", api.handleListBatches)
	mux.HandleFunc("GET /batches/{batch_id}", api.handleGetBatch)
	mux.HandleFunc("POST /batches/{batch_id}/materials", api.handleAddMaterial)
	mux.HandleFunc("POST /batches/{batch_id}/events", api.handleRecordEvent)
	mux.HandleFunc("POST /batches/{batch_id}/start-charging", api.handleStartCharging)
	mux.HandleFunc("POST /batches/{batch_id}/start-melting", api.handleStartMelting)
	mux.HandleFunc("POST /batches/{batch_id}/mark-ready", api.handleMarkReady)
	mux.HandleFunc("POST /batches/{batch_id}/transfer", api.handleTransfer)
	mux.HandleFunc("POST /batches/{batch_id}/cancel", api.handleCancel)
	mux.HandleFunc("POST /batches/{batch_id}/reopen", api.handleReopen)

	mux.HandleFunc("GET /furnaces/{furnace}/active-batch", api.handleActiveBatch)
}

type createBatchRequest struct {
	PlanID         string  `json:"plan_id"`
	Furnace        string  `json:"furnace"`
	Alloy          string  `json:"alloy"`
	TargetWeightKG float64 `json:"target_weight_kg,omitempty"`
}

func (api *meltingAPI) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	var req createBatchRequest
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
	if plan.Kind != domain.PlanKindCasting {
		api.writeError(w, r, http.StatusBadRequest, "plan_not_casting")
		return
	}
	if plan.Status != domain.PlanStatusReleased {
		api.writeGuardRejection(w, r, &domain.GuardRejection{
			Aggregate:  "casting_plan",
			ID:         plan.ID,
			Transition: "create_batch",
			Current:    string(plan.Status),
			Required:   string(domain.PlanStatusReleased),
		})
		return
	}

	now := time.Now().UTC()
	batch := domain.MeltingBatch{
		ID:             uuid.NewString(),
		PlanID:         plan.ID,
		Furnace:        strings.TrimSpace(req.Furnace),
		Alloy:          strings.TrimSpace(req.Alloy),
		Status:         domain.BatchStatusDraft,
		QCGate:         domain.QCGatePending,
		TargetWeightKG: req.TargetWeightKG,
		CreatedAt:      now,
	}
	if batch.Alloy == "" {
		batch.Alloy = plan.Alloy
	}
	if batch.Furnace == "" {
		batch.Furnace = plan.Furnace
	}
	batch.RecordEvent(now, "batch.created", identity.Subject, "")

	tx, err := api.db.BeginTx(r.Context(), nil)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer func() { _ = tx.Rollback() }()

	txBatches := postgres.NewBatchStore(tx)
	txPlans := postgres.NewPlanStore(tx)

	if err := txBatches.CreateIfFurnaceFree(r.Context(), batch); err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			api.writeJSON(w, http.StatusConflict, map[string]any{
				"error":      "furnace_occupied",
				"furnace":    conflict.Resource,
				"blocked_by": conflict.BlockedBy,
				"request_id": r.Header.Get("X-Request-Id"),
			})
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if err := txPlans.LinkBatch(r.Context(), plan.ID, batch.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusConflict, "plan_already_linked")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	_, err = auditlog.Insert(r.Context(), tx, auditlog.Event{
		OccurredAt:   now,
		Actor:        identity.Subject,
		Action:       "melting_batch.create",
		ResourceType: "melting_batch",
		ResourceID:   batch.ID,
		RequestID:    r.Header.Get("X-Request-Id"),
		Payload: map[string]any{
			"service": "melting",
			"plan_id": plan.ID,
			"furnace": batch.Furnace,
			"alloy":   batch.Alloy,
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

	w.Header().Set("Location", "/batches/"+batch.ID)
	api.writeJSON(w, http.StatusCreated, batchResponse(batch))
}

type addMaterialRequest struct {
	Item     string  `json:"item"`
	WeightKG float64 `json:"weight_kg"`
}

func (api *meltingAPI) handleAddMaterial(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	var req addMaterialRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	batch, err := api.batches.Get(r.Context(), r.PathValue("batch_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "batch_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	now := time.Now().UTC()
	row := domain.RawMaterialRow{
		Item:      strings.TrimSpace(req.Item),
		WeightKG:  req.WeightKG,
		ChargedAt: now,
		ChargedBy: identity.Subject,
	}
	if err := batch.AddMaterial(row); err != nil {
		api.writeDomainError(w, r, identity.Subject, err)
		return
	}
	batch.RecordEvent(now, "material.charged", identity.Subject, row.Item+" "+strconv.FormatFloat(row.WeightKG, 'f', 1, 64)+" kg")
	batch.RecalcYield()

	if err := api.batches.Update(r.Context(), batch); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, batchResponse(batch))
}

type recordEventRequest struct {
	Event  string `json:"event"`
	Detail string `json:"detail,omitempty"`
}

// handleRecordEvent logs an ad-hoc process event against an active batch,
// e.g. a furnace temperature reading taken between transitions.
func (api *meltingAPI) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	var req recordEventRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.Event) == "" {
		api.writeError(w, r, http.StatusBadRequest, "event_required")
		return
	}

	batch, err := api.batches.Get(r.Context(), r.PathValue("batch_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "batch_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if batch.Status == domain.BatchStatusTransferred || batch.Status == domain.BatchStatusCancelled {
		api.writeGuardRejection(w, r, &domain.GuardRejection{
			Aggregate:  "melting_batch",
			ID:         batch.ID,
			Transition: "record_event",
			Current:    string(batch.Status),
			Required:   "active batch",
		})
		return
	}

	batch.RecordEvent(time.Now().UTC(), strings.TrimSpace(req.Event), identity.Subject, strings.TrimSpace(req.Detail))
	if err := api.batches.Update(r.Context(), batch); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, batchResponse(batch))
}

func (api *meltingAPI) handleStartCharging(w http.ResponseWriter, r *http.Request) {
	api.transitionBatch(w, r, domain.BatchStatusCharging, "charging.started", nil)
}

func (api *meltingAPI) handleStartMelting(w http.ResponseWriter, r *http.Request) {
	api.transitionBatch(w, r, domain.BatchStatusMelting, "melting.started", nil)
}

// syncPlanStatus moves the linked plan along with the batch; a plan already
// past the target status is left alone.
func (api *meltingAPI) syncPlanStatus(r *http.Request, planID string, next domain.PlanStatus) {
	plan, err := api.plans.Get(r.Context(), planID)
	if err != nil {
		api.logger.Warn("plan lookup for status sync failed", "plan_id", planID, "error", err)
		return
	}
	if err := plan.TransitionTo(next); err != nil {
		return
	}
	if err := api.plans.UpdateStatus(r.Context(), plan.ID, plan.Status); err != nil {
		api.logger.Warn("plan status sync failed", "plan_id", planID, "error", err)
	}
}

func (api *meltingAPI) handleMarkReady(w http.ResponseWriter, r *http.Request) {
	api.transitionBatch(w, r, domain.BatchStatusReadyForTransfer, "batch.ready_for_transfer", func(batch domain.MeltingBatch) error {
		return batch.GuardMarkReady()
	})
}

type transferRequest struct {
	TappedWeightKG float64 `json:"tapped_weight_kg,omitempty"`
}

func (api *meltingAPI) handleTransfer(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	batch, err := api.batches.Get(r.Context(), r.PathValue("batch_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "batch_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	if err := batch.GuardTransfer(); err != nil {
		api.writeDomainError(w, r, identity.Subject, err)
		return
	}
	if err := batch.TransitionTo(domain.BatchStatusTransferred); err != nil {
		api.writeDomainError(w, r, identity.Subject, err)
		return
	}

	now := time.Now().UTC()
	batch.TransferredAt = now
	batch.TransferredBy = identity.Subject
	if req.TappedWeightKG > 0 {
		batch.TappedWeightKG = req.TappedWeightKG
	}
	batch.RecalcYield()
	batch.RecordEvent(now, "metal.transferred", identity.Subject, "")

	tx, err := api.db.BeginTx(r.Context(), nil)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer func() { _ = tx.Rollback() }()

	txBatches := postgres.NewBatchStore(tx)
	txPlans := postgres.NewPlanStore(tx)
	if err := txBatches.Update(r.Context(), batch); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if err := txPlans.UpdateStatus(r.Context(), batch.PlanID, domain.PlanStatusMetalReady); err != nil && !errors.Is(err, repo.ErrNotFound) {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	_, err = auditlog.Insert(r.Context(), tx, auditlog.Event{
		OccurredAt:   now,
		Actor:        identity.Subject,
		Action:       "melting_batch.transfer",
		ResourceType: "melting_batch",
		ResourceID:   batch.ID,
		RequestID:    r.Header.Get("X-Request-Id"),
		Payload: map[string]any{
			"service":          "melting",
			"plan_id":          batch.PlanID,
			"furnace":          batch.Furnace,
			"tapped_weight_kg": batch.TappedWeightKG,
			"yield_percent":    batch.YieldPercent,
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
	api.writeJSON(w, http.StatusOK, batchResponse(batch))
}

func (api *meltingAPI) handleCancel(w http.ResponseWriter, r *http.Request) {
	api.transitionBatch(w, r, domain.BatchStatusCancelled, "batch.cancelled", nil)
}

func (api *meltingAPI) handleReopen(w http.ResponseWriter, r *http.Request) {
	api.transitionBatch(w, r, domain.BatchStatusDraft, "batch.reopened", nil)
}

// transitionBatch is the shared shape of every guarded lifecycle move:
// load, guard, transition, persist, respond.
func (api *meltingAPI) transitionBatch(w http.ResponseWriter, r *http.Request, next domain.BatchStatus, event string, guard func(domain.MeltingBatch) error) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	batch, err := api.batches.Get(r.Context(), r.PathValue("batch_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "batch_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	if guard != nil {
		if err := guard(batch); err != nil {
			api.writeDomainError(w, r, identity.Subject, err)
			return
		}
	}
	if err := batch.TransitionTo(next); err != nil {
		api.writeDomainError(w, r, identity.Subject, err)
		return
	}
	batch.RecordEvent(time.Now().UTC(), event, identity.Subject, "")

	if err := api.batches.Update(r.Context(), batch); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if next == domain.BatchStatusMelting {
		api.syncPlanStatus(r, batch.PlanID, domain.PlanStatusMelting)
	}
	api.writeJSON(w, http.StatusOK, batchResponse(batch))
}

func (api *meltingAPI) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := api.batches.Get(r.Context(), r.PathValue("batch_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "batch_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, batchResponse(batch))
}

func (api *meltingAPI) handleListBatches(w http.ResponseWriter, r *http.Request) {
	filter := repo.BatchFilter{
		PlanID:  strings.TrimSpace(r.URL.Query().Get("plan_id")),
		Furnace: strings.TrimSpace(r.URL.Query().Get("furnace")),
		Status:  domain.BatchStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
		Limit:   clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	}
	batches, err := api.batches.List(r.Context(), filter)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]map[string]any, 0, len(batches))
	for _, batch := range batches {
		out = append(out, batchResponse(batch))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"batches": out})
}

func (api *meltingAPI) handleActiveBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := api.batches.ActiveForFurnace(r.Context(), r.PathValue("furnace"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "no_active_batch")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, batchResponse(batch))
}

func batchResponse(batch domain.MeltingBatch) map[string]any {
	out := map[string]any{
		"batch_id":          batch.ID,
		"plan_id":           batch.PlanID,
		"furnace":           batch.Furnace,
		"alloy":             batch.Alloy,
		"status":            string(batch.Status),
		"qc_gate":           string(batch.QCGate),
		"materials":         batch.Materials,
		"events":            batch.Events,
		"charged_weight_kg": batch.ChargedWeightKG(),
		"target_weight_kg":  batch.TargetWeightKG,
		"created_at":        batch.CreatedAt,
		"updated_at":        batch.UpdatedAt,
	}
	if batch.TappedWeightKG > 0 {
		out["tapped_weight_kg"] = batch.TappedWeightKG
		out["yield_percent"] = batch.YieldPercent
	}
	if !batch.TransferredAt.IsZero() {
		out["transferred_at"] = batch.TransferredAt
		out["transferred_by"] = batch.TransferredBy
	}
	if batch.CorrectionComment != "" {
		out["correction_comment"] = batch.CorrectionComment
	}
	return out
}

// writeDomainError maps the error taxonomy to HTTP statuses: validation
// failures are 400, guard rejections and conflicts are 409. Guard denials
// are also audited.
func (api *meltingAPI) writeDomainError(w http.ResponseWriter, r *http.Request, actor string, err error) {
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
		if _, auditErr := auditlog.InsertGuardRejection(r.Context(), api.db, "melting", rejection, actor, r.Header.Get("X-Request-Id")); auditErr != nil {
			api.logger.Warn("audit guard rejection failed", "error", auditErr)
		}
		api.writeGuardRejection(w, r, rejection)
		return
	}
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		api.writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "conflict",
			"resource":   conflict.Resource,
			"blocked_by": conflict.BlockedBy,
			"reason":     conflict.Reason,
			"request_id": r.Header.Get("X-Request-Id"),
		})
		return
	}
	api.writeError(w, r, http.StatusInternalServerError, "internal_error")
}

func (api *meltingAPI) writeGuardRejection(w http.ResponseWriter, r *http.Request, rejection *domain.GuardRejection) {
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

func (api *meltingAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *meltingAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
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

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
