package main

import (
	"bytes"
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
	"github.com/minio/minio-go/v7"

	"github.com/swynix/mes-go/internal/composition"
	"github.com/swynix/mes-go/internal/domain"
	"github.com/swynix/mes-go/internal/platform/auditlog"
	"github.com/swynix/mes-go/internal/platform/auth"
	"github.com/swynix/mes-go/internal/platform/objectstore"
	"github.com/swynix/mes-go/internal/repo"
	"github.com/swynix/mes-go/internal/repo/postgres"
)

type qcAPI struct {
	logger   *slog.Logger
	db       *sql.DB
	store    *minio.Client
	storeCfg objectstore.Config
	samples  *postgres.SampleStore
	batches  *postgres.BatchStore
	ruleSets *postgres.RuleSetStore
}

func newQCAPI(logger *slog.Logger, db *sql.DB, store *minio.Client, storeCfg objectstore.Config) *qcAPI {
	return &qcAPI{
		logger:   logger,
		db:       db,
		store:    store,
		storeCfg: storeCfg,
		samples:  postgres.NewSampleStore(db),
		batches:  postgres.NewBatchStore(db),
		ruleSets: postgres.NewRuleSetStore(db),
	}
}

func (api *qcAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /rule-sets", api.handleCreateRuleSet)
	mux.HandleFunc("GET /rule-sets/{alloy}/active", api.handleActiveRuleSet)
	mux.HandleFunc("GET /rule-sets/{alloy}/{revision}", api.handleGetRuleSet)
	mux.HandleFunc("POST /rule-sets/{alloy}/{revision}/deactivate", api.handleDeactivateRuleSet)

	mux.HandleFunc("POST /batches/{batch_id}/samples", api.handleDrawSample)
	mux.HandleFunc("GET /batches/{batch_id}/samples", api.handleListSamples)
	mux.HandleFunc("GET /samples/{sample_id}", api.handleGetSample)
	mux.HandleFunc("POST /samples/{sample_id}/readings", api.handleSubmitReadings)
	mux.HandleFunc("POST /samples/{sample_id}/accept", api.handleAcceptSample)
	mux.HandleFunc("POST /samples/{sample_id}/require-correction", api.handleRequireCorrection)

	mux.HandleFunc("POST /evaluate", api.handleEvaluate)
}

type createRuleSetRequest struct {
	Alloy    string             `json:"alloy"`
	Active   bool               `json:"active"`
	Revision int                `json:"revision_no"`
	Rules    []composition.Rule `json:"rules"`
}

func (api *qcAPI) handleCreateRuleSet(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if !auth.HasAtLeast(identity.Roles, auth.RoleSupervisor) {
		api.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	var req createRuleSetRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	set := composition.RuleSet{
		Schema:     "swynix.mes.composition_spec.v1",
		Alloy:      strings.TrimSpace(req.Alloy),
		RevisionNo: req.Revision,
		Rules:      req.Rules,
	}
	if err := set.Validate(); err != nil {
		api.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "invalid_rule_set",
			"detail":     err.Error(),
			"request_id": r.Header.Get("X-Request-Id"),
		})
		return
	}

	if err := api.ruleSets.Create(r.Context(), set.Alloy, set, req.Active); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	_, err := auditlog.Insert(r.Context(), api.db, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        identity.Subject,
		Action:       "rule_set.create",
		ResourceType: "composition_rule_set",
		ResourceID:   set.Alloy + "/" + strconv.Itoa(set.RevisionNo),
		RequestID:    r.Header.Get("X-Request-Id"),
		Payload: map[string]any{
			"service":     "qc",
			"alloy":       set.Alloy,
			"revision_no": set.RevisionNo,
			"rules_count": len(set.Rules),
			"active":      req.Active,
		},
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}

	api.writeJSON(w, http.StatusCreated, set)
}

func (api *qcAPI) handleActiveRuleSet(w http.ResponseWriter, r *http.Request) {
	set, err := api.ruleSets.Active(r.Context(), r.PathValue("alloy"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "rule_set_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, set)
}

func (api *qcAPI) handleGetRuleSet(w http.ResponseWriter, r *http.Request) {
	revision, err := strconv.Atoi(r.PathValue("revision"))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_revision")
		return
	}
	set, err := api.ruleSets.Get(r.Context(), r.PathValue("alloy"), revision)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "rule_set_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, set)
}

func (api *qcAPI) handleDeactivateRuleSet(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || !auth.HasAtLeast(identity.Roles, auth.RoleSupervisor) {
		api.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	revision, err := strconv.Atoi(r.PathValue("revision"))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_revision")
		return
	}
	if err := api.ruleSets.Deactivate(r.Context(), r.PathValue("alloy"), revision); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "rule_set_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"deactivated": true})
}

func (api *qcAPI) handleDrawSample(w http.ResponseWriter, r *http.Request) {
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
	if batch.Status != domain.BatchStatusMelting {
		api.writeGuardRejection(w, r, &domain.GuardRejection{
			Aggregate:  "melting_batch",
			ID:         batch.ID,
			Transition: "draw_sample",
			Current:    string(batch.Status),
			Required:   string(domain.BatchStatusMelting),
		})
		return
	}

	prior, err := api.samples.CountForBatch(r.Context(), batch.ID)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	// A fresh draw supersedes any sample still awaiting a decision.
	open, err := api.samples.List(r.Context(), repo.SampleFilter{BatchID: batch.ID})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	for _, prev := range open {
		if prev.Status == domain.SampleStatusSuperseded {
			continue
		}
		if err := prev.TransitionTo(domain.SampleStatusSuperseded); err != nil {
			continue
		}
		if err := api.samples.Update(r.Context(), prev); err != nil {
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
	}

	now := time.Now().UTC()
	sample := domain.Sample{
		ID:       uuid.NewString(),
		BatchID:  batch.ID,
		SampleNo: domain.NextSampleNo(prior),
		Status:   domain.SampleStatusPending,
		DrawnAt:  now,
		DrawnBy:  identity.Subject,
	}
	if err := api.samples.Create(r.Context(), sample); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	batch.QCGate = domain.QCGatePending
	batch.RecordEvent(now, "sample.drawn", identity.Subject, sample.SampleNo)
	if err := api.batches.Update(r.Context(), batch); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	w.Header().Set("Location", "/samples/"+sample.ID)
	api.writeJSON(w, http.StatusCreated, sampleResponse(sample))
}

type submitReadingsRequest struct {
	Readings   map[string]float64 `json:"readings"`
	RawPayload json.RawMessage    `json:"raw_payload,omitempty"`
}

func (api *qcAPI) handleSubmitReadings(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	var req submitReadingsRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	sample, err := api.samples.Get(r.Context(), r.PathValue("sample_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "sample_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	batch, err := api.batches.Get(r.Context(), sample.BatchID)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	now := time.Now().UTC()
	if err := sample.SetReadings(composition.NormalizeReadings(req.Readings), identity.Subject, now); err != nil {
		api.writeDomainError(w, r, identity.Subject, err)
		return
	}
	if sample.Status == domain.SampleStatusPending {
		if err := sample.TransitionTo(domain.SampleStatusInLab); err != nil {
			api.writeDomainError(w, r, identity.Subject, err)
			return
		}
	}

	// Raw spectrometer output is archived verbatim; the readings map is the
	// parsed view, the object store holds the instrument's own words.
	if len(req.RawPayload) > 0 {
		key := "batches/" + batch.ID + "/samples/" + sample.SampleNo + ".json"
		_, err := api.store.PutObject(
			r.Context(),
			api.storeCfg.BucketSpectroRaw,
			key,
			bytes.NewReader(req.RawPayload),
			int64(len(req.RawPayload)),
			minio.PutObjectOptions{ContentType: "application/json"},
		)
		if err != nil {
			api.logger.Warn("raw payload archive failed", "sample_id", sample.ID, "error", err)
		} else {
			sample.RawPayloadKey = key
		}
	}

	set, err := api.ruleSets.Active(r.Context(), batch.Alloy)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	verdict := composition.Evaluate(sample.Readings, set.Rules)
	sample.Verdict = string(verdict.Overall)
	sample.Deviations = verdict.Deviations

	if err := api.samples.Update(r.Context(), sample); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	// The gate moves to out_of_spec immediately; within_spec waits for a
	// supervisor's accept.
	switch verdict.Overall {
	case composition.OverallOutOfSpec:
		batch.QCGate = domain.QCGateOutOfSpec
	default:
		batch.QCGate = domain.QCGatePending
	}
	batch.RecordEvent(now, "sample.evaluated", identity.Subject, sample.SampleNo+" "+sample.Verdict)
	if err := api.batches.Update(r.Context(), batch); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"sample":  sampleResponse(sample),
		"verdict": verdict,
	})
}

func (api *qcAPI) handleAcceptSample(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || !auth.HasAtLeast(identity.Roles, auth.RoleSupervisor) {
		api.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	sample, err := api.samples.Get(r.Context(), r.PathValue("sample_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "sample_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	if sample.Verdict != string(composition.OverallOK) {
		api.writeGuardRejection(w, r, &domain.GuardRejection{
			Aggregate:  "sample",
			ID:         sample.ID,
			Transition: "accept",
			Current:    sample.Verdict,
			Required:   "verdict " + string(composition.OverallOK),
		})
		return
	}
	if err := sample.TransitionTo(domain.SampleStatusAccepted); err != nil {
		api.writeDomainError(w, r, identity.Subject, err)
		return
	}

	now := time.Now().UTC()
	sample.ReviewedAt = now
	sample.ReviewedBy = identity.Subject
	if err := api.samples.Update(r.Context(), sample); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	batch, err := api.batches.Get(r.Context(), sample.BatchID)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	batch.QCGate = domain.QCGateWithinSpec
	batch.RecordEvent(now, "sample.accepted", identity.Subject, sample.SampleNo)
	if err := api.batches.Update(r.Context(), batch); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	_, err = auditlog.Insert(r.Context(), api.db, auditlog.Event{
		OccurredAt:   now,
		Actor:        identity.Subject,
		Action:       "sample.accept",
		ResourceType: "sample",
		ResourceID:   sample.ID,
		RequestID:    r.Header.Get("X-Request-Id"),
		Payload: map[string]any{
			"service":   "qc",
			"batch_id":  sample.BatchID,
			"sample_no": sample.SampleNo,
			"verdict":   sample.Verdict,
		},
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}

	api.writeJSON(w, http.StatusOK, sampleResponse(sample))
}

type correctionRequest struct {
	Comment string `json:"comment"`
}

func (api *qcAPI) handleRequireCorrection(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || !auth.HasAtLeast(identity.Roles, auth.RoleSupervisor) {
		api.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	var req correctionRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	sample, err := api.samples.Get(r.Context(), r.PathValue("sample_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "sample_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if err := sample.TransitionTo(domain.SampleStatusCorrectionRequired); err != nil {
		api.writeDomainError(w, r, identity.Subject, err)
		return
	}

	now := time.Now().UTC()
	sample.ReviewedAt = now
	sample.ReviewedBy = identity.Subject
	if err := api.samples.Update(r.Context(), sample); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	batch, err := api.batches.Get(r.Context(), sample.BatchID)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	batch.QCGate = domain.QCGateCorrectionRequired
	batch.CorrectionComment = strings.TrimSpace(req.Comment)
	batch.RecordEvent(now, "sample.correction_required", identity.Subject, sample.SampleNo)
	if err := api.batches.Update(r.Context(), batch); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.writeJSON(w, http.StatusOK, sampleResponse(sample))
}

func (api *qcAPI) handleGetSample(w http.ResponseWriter, r *http.Request) {
	sample, err := api.samples.Get(r.Context(), r.PathValue("sample_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "sample_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, sampleResponse(sample))
}

func (api *qcAPI) handleListSamples(w http.ResponseWriter, r *http.Request) {
	batch, err := api.batches.Get(r.Context(), r.PathValue("batch_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "batch_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	samples, err := api.samples.List(r.Context(), repo.SampleFilter{BatchID: batch.ID})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]map[string]any, 0, len(samples))
	acceptedIDs := make([]string, 0, len(samples))
	pendingIDs := make([]string, 0, len(samples))
	correctionIDs := make([]string, 0, len(samples))
	outOfSpec := 0
	for _, sample := range samples {
		switch sample.Status {
		case domain.SampleStatusAccepted:
			acceptedIDs = append(acceptedIDs, sample.ID)
		case domain.SampleStatusPending, domain.SampleStatusInLab:
			pendingIDs = append(pendingIDs, sample.ID)
		case domain.SampleStatusCorrectionRequired:
			correctionIDs = append(correctionIDs, sample.ID)
		}
		if sample.Verdict == string(composition.OverallOutOfSpec) {
			outOfSpec++
		}
		out = append(out, sampleResponse(sample))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"batch_id": batch.ID,
		"samples":  out,
		"summary": map[string]any{
			"total":              len(samples),
			"accepted":           len(acceptedIDs),
			"out_of_spec":        outOfSpec,
			"qc_status":          string(batch.QCGate),
			"can_transfer":       batch.QCGate == domain.QCGateWithinSpec,
			"accepted_ids":       acceptedIDs,
			"pending_ids":        pendingIDs,
			"correction_req_ids": correctionIDs,
		},
	})
}

type evaluateRequest struct {
	Alloy    string             `json:"alloy"`
	Readings map[string]float64 `json:"readings"`
}

// handleEvaluate runs the evaluator speculatively: kiosks call it as the
// operator types, nothing is stored.
func (api *qcAPI) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	set, err := api.ruleSets.Active(r.Context(), req.Alloy)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "rule_set_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	verdict := composition.Evaluate(req.Readings, set.Rules)
	api.writeJSON(w, http.StatusOK, map[string]any{
		"alloy":       set.Alloy,
		"revision_no": set.RevisionNo,
		"verdict":     verdict,
	})
}

func sampleResponse(sample domain.Sample) map[string]any {
	out := map[string]any{
		"sample_id": sample.ID,
		"batch_id":  sample.BatchID,
		"sample_no": sample.SampleNo,
		"status":    string(sample.Status),
		"drawn_at":  sample.DrawnAt,
		"drawn_by":  sample.DrawnBy,
	}
	if sample.Readings != nil {
		out["readings"] = sample.Readings
		out["submitted_at"] = sample.SubmittedAt
		out["submitted_by"] = sample.SubmittedBy
	}
	if sample.Verdict != "" {
		out["verdict"] = sample.Verdict
		out["deviations"] = sample.Deviations
	}
	if !sample.ReviewedAt.IsZero() {
		out["reviewed_at"] = sample.ReviewedAt
		out["reviewed_by"] = sample.ReviewedBy
	}
	if sample.RawPayloadKey != "" {
		out["raw_payload_key"] = sample.RawPayloadKey
	}
	return out
}

func (api *qcAPI) writeDomainError(w http.ResponseWriter, r *http.Request, actor string, err error) {
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
		if _, auditErr := auditlog.InsertGuardRejection(r.Context(), api.db, "qc", rejection, actor, r.Header.Get("X-Request-Id")); auditErr != nil {
			api.logger.Warn("audit guard rejection failed", "error", auditErr)
		}
		api.writeGuardRejection(w, r, rejection)
		return
	}
	api.writeError(w, r, http.StatusInternalServerError, "internal_error")
}

func (api *qcAPI) writeGuardRejection(w http.ResponseWriter, r *http.Request, rejection *domain.GuardRejection) {
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

func (api *qcAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *qcAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
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
