package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ryabkov82/sf-sync-server/internal/client"
	"github.com/ryabkov82/sf-sync-server/internal/job"
	"github.com/ryabkov82/sf-sync-server/internal/logging"
	"github.com/ryabkov82/sf-sync-server/internal/mapping"
	"github.com/ryabkov82/sf-sync-server/internal/record"
	"github.com/ryabkov82/sf-sync-server/internal/syncer"
	"github.com/ryabkov82/sf-sync-server/internal/version"
)

// BatchProcessor synchronizes one batch of payloads
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, settings client.Settings, payloads []record.Payload,
		objectType string, op record.Operation, opts syncer.Options) ([]record.Outcome, error)
}

// Handler handles HTTP requests
type Handler struct {
	engine   BatchProcessor
	store    *job.Store
	settings client.Settings
	options  syncer.Options
}

// NewHandler creates a new handler. settings and options are the defaults
// for requests that leave them out.
func NewHandler(engine BatchProcessor, store *job.Store, settings client.Settings, options syncer.Options) *Handler {
	return &Handler{
		engine:   engine,
		store:    store,
		settings: settings,
		options:  options,
	}
}

// batchRequest is the body of POST /v1/batches and POST /v1/jobs
type batchRequest struct {
	Settings   client.Settings  `json:"settings"`
	ObjectType string           `json:"objectType"`
	Operation  string           `json:"operation"`
	Payloads   []record.Payload `json:"payloads"`
	Options    syncer.Options   `json:"options"`
}

// accountsRequest is the body of POST /v1/accounts
type accountsRequest struct {
	Settings client.Settings   `json:"settings"`
	Options  syncer.Options    `json:"options"`
	Accounts []mapping.Account `json:"accounts"`
}

type batchResponse struct {
	ObjectType string           `json:"objectType"`
	Operation  record.Operation `json:"operation"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Outcomes   []record.Outcome `json:"outcomes"`
}

type jobResponse struct {
	JobID            string           `json:"jobId"`
	Status           job.JobStatus    `json:"status"`
	ObjectType       string           `json:"objectType"`
	Operation        record.Operation `json:"operation"`
	RecordsTotal     int64            `json:"recordsTotal"`
	RecordsSucceeded int64            `json:"recordsSucceeded"`
	RecordsFailed    int64            `json:"recordsFailed"`
	RecordsRetryable int64            `json:"recordsRetryable"`
	CreatedAt        string           `json:"createdAt"`
	StartedAt        string           `json:"startedAt,omitempty"`
	FinishedAt       string           `json:"finishedAt,omitempty"`
	LastError        string           `json:"lastError,omitempty"`
	Outcomes         []record.Outcome `json:"outcomes,omitempty"`
}

// GetVersion handles GET /version
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	info := version.Get()
	info.APIVersion = h.settings.APIVersion
	writeJSON(w, http.StatusOK, info)
}

// ProcessBatch handles POST /v1/batches
func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	req := batchRequest{Options: h.options}
	if !decodeBody(w, r, &req) {
		return
	}

	jr, err := h.toRequest(req)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest, codeConfig)
		return
	}

	h.runSync(w, r, jr)
}

// SyncAccounts handles POST /v1/accounts. With ?async=true the batch is
// queued as a job instead.
func (h *Handler) SyncAccounts(w http.ResponseWriter, r *http.Request) {
	req := accountsRequest{Options: h.options}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Accounts) == 0 {
		respondError(w, r, errors.New("accounts must not be empty"), http.StatusBadRequest, codeBadRequest)
		return
	}

	payloads, op, err := mapping.Accounts(req.Accounts)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest, codeConfig)
		return
	}

	jr := job.Request{
		Settings:   h.resolveSettings(req.Settings),
		ObjectType: mapping.AccountObject,
		Operation:  op,
		Payloads:   payloads,
		Options:    req.Options,
	}
	if err := record.ValidateBatch(jr.Payloads, jr.ObjectType, jr.Operation); err != nil {
		respondError(w, r, err, http.StatusBadRequest, codeConfig)
		return
	}

	if r.URL.Query().Get("async") == "true" {
		h.enqueue(w, r, jr)
		return
	}
	h.runSync(w, r, jr)
}

// CreateJob handles POST /v1/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	req := batchRequest{Options: h.options}
	if !decodeBody(w, r, &req) {
		return
	}

	jr, err := h.toRequest(req)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest, codeConfig)
		return
	}
	if len(jr.Payloads) == 0 {
		respondError(w, r, errors.New("payloads must not be empty"), http.StatusBadRequest, codeBadRequest)
		return
	}

	h.enqueue(w, r, jr)
}

// GetJob handles GET /v1/jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	j, err := h.store.Get(jobID)
	if err != nil {
		respondError(w, r, err, http.StatusNotFound, codeNotFound)
		return
	}

	writeJSON(w, http.StatusOK, newJobResponse(j))
}

// CancelJob handles POST /v1/jobs/{jobId}/cancel
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	if err := h.store.Cancel(jobID); err != nil {
		switch {
		case errors.Is(err, job.ErrJobNotFound):
			respondError(w, r, err, http.StatusNotFound, codeNotFound)
		case errors.Is(err, job.ErrJobFinished):
			respondError(w, r, err, http.StatusConflict, codeJobFinished)
		default:
			respondError(w, r, err, http.StatusInternalServerError, codeInternalError)
		}
		return
	}

	logging.WithFields(r.Context(), "job_id", jobID).Info("job canceled")

	writeJSON(w, http.StatusOK, map[string]string{
		"jobId":  jobID,
		"status": string(job.StatusCanceled),
	})
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request, jr job.Request) {
	outcomes, err := h.engine.ProcessBatch(r.Context(), jr.Settings, jr.Payloads, jr.ObjectType, jr.Operation, jr.Options)
	if err != nil {
		if record.IsConfigError(err) {
			respondError(w, r, err, http.StatusBadRequest, codeConfig)
		} else {
			respondError(w, r, err, http.StatusBadGateway, codeUpstream)
		}
		return
	}

	resp := batchResponse{
		ObjectType: jr.ObjectType,
		Operation:  jr.Operation,
		Outcomes:   outcomes,
	}
	for _, out := range outcomes {
		if out.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// enqueue queues jr. A repeated Idempotency-Key returns the queued or
// running job with 200 instead of 201.
func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, jr job.Request) {
	j := &job.Job{
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		Request:        jr,
	}

	jobID, existing, err := h.store.Create(j)
	if err != nil {
		if errors.Is(err, job.ErrQueueFull) {
			respondError(w, r, fmt.Errorf("%w, please try again later", err), http.StatusTooManyRequests, codeQueueFull)
			return
		}
		respondError(w, r, err, http.StatusInternalServerError, codeInternalError)
		return
	}

	snap, err := h.store.Get(jobID)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError, codeInternalError)
		return
	}

	status := http.StatusCreated
	if existing {
		status = http.StatusOK
	} else {
		logging.WithFields(r.Context(), "job_id", jobID, "object", jr.ObjectType, "operation", string(jr.Operation)).
			Info("job created", "records", len(jr.Payloads))
	}
	writeJSON(w, status, newJobResponse(snap))
}

// toRequest normalizes a batch request: operation names are parsed
// case-insensitively, payloads inherit the batch object and operation and
// are indexed by position.
func (h *Handler) toRequest(req batchRequest) (job.Request, error) {
	op, err := record.ParseOperation(req.Operation)
	if err != nil {
		return job.Request{}, record.BatchError(req.ObjectType, record.Operation(req.Operation), "%v", err)
	}

	payloads := make([]record.Payload, len(req.Payloads))
	for i, p := range req.Payloads {
		if p.ObjectType == "" {
			p.ObjectType = req.ObjectType
		}
		if p.Operation == "" {
			p.Operation = op
		} else if p.Operation, err = record.ParseOperation(string(p.Operation)); err != nil {
			return job.Request{}, record.BatchError(req.ObjectType, op, "record %d: %v", i, err)
		}
		p.Index = i
		payloads[i] = p
	}

	if err := record.ValidateBatch(payloads, req.ObjectType, op); err != nil {
		return job.Request{}, err
	}

	return job.Request{
		Settings:   h.resolveSettings(req.Settings),
		ObjectType: req.ObjectType,
		Operation:  op,
		Payloads:   payloads,
		Options:    req.Options,
	}, nil
}

// resolveSettings fills unset fields from the configured org. A request
// naming another instance must bring its own token.
func (h *Handler) resolveSettings(s client.Settings) client.Settings {
	if s.InstanceURL == "" {
		s.InstanceURL = h.settings.InstanceURL
		s.IsSandbox = h.settings.IsSandbox
		if s.AccessToken == "" {
			s.AccessToken = h.settings.AccessToken
		}
	}
	if s.APIVersion == "" {
		s.APIVersion = h.settings.APIVersion
	}
	return s
}

func newJobResponse(j job.Job) jobResponse {
	resp := jobResponse{
		JobID:            j.ID,
		Status:           j.Status,
		ObjectType:       j.Request.ObjectType,
		Operation:        j.Request.Operation,
		RecordsTotal:     j.RecordsTotal,
		RecordsSucceeded: j.RecordsSucceeded,
		RecordsFailed:    j.RecordsFailed,
		RecordsRetryable: j.RecordsRetryable,
		CreatedAt:        j.CreatedAt.Format(time.RFC3339),
		LastError:        j.LastError,
	}
	if j.StartedAt != nil {
		resp.StartedAt = j.StartedAt.Format(time.RFC3339)
	}
	if j.FinishedAt != nil {
		resp.FinishedAt = j.FinishedAt.Format(time.RFC3339)
	}
	if j.Status.Finished() {
		resp.Outcomes = j.Outcomes
	}
	return resp
}

// decodeBody decodes the JSON request body into v, writing the error
// response itself when decoding fails.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge, codeTooLarge)
			return false
		}
		respondError(w, r, fmt.Errorf("invalid JSON: %w", err), http.StatusBadRequest, codeBadRequest)
		return false
	}
	return true
}
