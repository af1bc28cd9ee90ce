package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ryabkov82/sf-sync-server/internal/client"
	"github.com/ryabkov82/sf-sync-server/internal/record"
)

// API is the Bulk API 2.0 surface used by the orchestrator.
// *client.Client implements it.
type API interface {
	CreateJob(ctx context.Context, spec client.JobSpec) (client.JobInfo, error)
	UploadJobData(ctx context.Context, jobID string, data []byte) error
	CloseJob(ctx context.Context, jobID string) (client.JobInfo, error)
	GetJob(ctx context.Context, jobID string) (client.JobInfo, error)
	JobResults(ctx context.Context, jobID string, set client.ResultSet) ([]byte, error)
	AbortJob(ctx context.Context, jobID string) (client.JobInfo, error)
}

// Job-level error codes
const (
	CodeJobFailed          = "JOB_FAILED"
	CodeRowCountMismatch   = "ROW_COUNT_MISMATCH"
	CodePollTimeout        = "POLL_TIMEOUT"
	CodePollErrors         = "POLL_ERRORS"
	CodeCanceled           = "CANCELED"
	CodeRemoteAborted      = "JOB_ABORTED"
	CodeResultsUnavailable = "RESULTS_UNAVAILABLE"
	CodeResultsMalformed   = "RESULTS_MALFORMED"
	CodeTransport          = "TRANSPORT_ERROR"
)

// abortTimeout bounds the best-effort remote abort issued on the way out
const abortTimeout = 15 * time.Second

// JobError describes why a whole job did not complete
type JobError struct {
	JobID      string
	ObjectType string
	Operation  record.Operation
	State      State
	Kind       record.Kind
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *JobError) Error() string {
	id := e.JobID
	if id == "" {
		id = "(not created)"
	}
	return fmt.Sprintf("bulk %s %s job %s %s: %s: %s", e.ObjectType, e.Operation, id, e.State, e.Code, e.Message)
}

func (e *JobError) Unwrap() error { return e.Err }

// Report describes a finished run
type Report struct {
	Job *Job
	// Results are the row results matched to submitted rows
	Results []RowResult
	// Outcomes has one entry per submitted row, in row order
	Outcomes []record.Outcome
	// Err is set unless the job completed
	Err *JobError
}

// Orchestrator drives bulk jobs through their lifecycle.
// It holds no per-job state; concurrent Run calls are independent.
type Orchestrator struct {
	api            API
	policy         PollPolicy
	clock          Clock
	rand           func() float64
	uploadMaxBytes int
	logger         *slog.Logger
	timings        *Timings
	tracer         trace.Tracer
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock replaces the wall clock used for polling waits
func WithClock(c Clock) Option { return func(o *Orchestrator) { o.clock = c } }

// WithRand replaces the jitter source
func WithRand(f func() float64) Option { return func(o *Orchestrator) { o.rand = f } }

// WithUploadMaxBytes sets the size limit of one upload part
func WithUploadMaxBytes(n int) Option { return func(o *Orchestrator) { o.uploadMaxBytes = n } }

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithTimings enables metrics collection
func WithTimings(t *Timings) Option { return func(o *Orchestrator) { o.timings = t } }

// WithTracerProvider sets the tracer provider for job spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) { o.tracer = tp.Tracer("sf-sync-server/bulk") }
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(api API, policy PollPolicy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:    api,
		policy: policy,
		clock:  realClock{},
		rand:   rand.Float64,
		logger: slog.Default(),
		tracer: otel.Tracer("sf-sync-server/bulk"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run submits req as one bulk job, waits for it and reconciles the results.
// It always returns one outcome per row of req.
func (o *Orchestrator) Run(ctx context.Context, req *JobRequest) *Report {
	ctx, span := o.tracer.Start(ctx, "bulk.Run", trace.WithAttributes(
		attribute.String("object", req.ObjectType),
		attribute.String("operation", string(req.Operation)),
		attribute.Int("rows", len(req.Rows)),
	))
	defer span.End()

	r := &run{
		o:    o,
		req:  req,
		job:  newJob(req, o.clock.Now()),
		span: span,
		log:  o.logger.With("object", req.ObjectType, "operation", string(req.Operation), "rows", len(req.Rows)),
	}
	report := r.execute(ctx)

	if o.timings != nil {
		o.timings.ObserveFinal(report.Job.State)
	}
	span.SetAttributes(attribute.String("job_id", report.Job.ID), attribute.String("state", string(report.Job.State)))
	if report.Err != nil {
		span.SetStatus(codes.Error, report.Err.Error())
	}
	return report
}

// run is the state of one Run call
type run struct {
	o    *Orchestrator
	req  *JobRequest
	job  *Job
	span trace.Span
	log  *slog.Logger
}

func (r *run) execute(ctx context.Context) *Report {
	chunks, err := r.req.Chunks(r.o.uploadMaxBytes)
	if err != nil {
		return r.finish(StateFailed, &JobError{Kind: record.KindConfig, Code: record.ConfigErrorCode, Message: err.Error(), Err: err})
	}

	start := time.Now()
	info, err := r.o.api.CreateJob(ctx, r.req.Spec())
	if r.o.timings != nil {
		r.o.timings.ObserveCreate(time.Since(start))
	}
	if err != nil {
		return r.transportFailure(ctx, "create job", err)
	}
	r.job.ID = info.ID
	r.log = r.log.With("job_id", info.ID)
	r.move(StateSubmitted, "job created")

	r.move(StateUploading, fmt.Sprintf("uploading %d part(s)", len(chunks)))
	for i, chunk := range chunks {
		start := time.Now()
		err := r.o.api.UploadJobData(ctx, r.job.ID, chunk)
		if r.o.timings != nil {
			r.o.timings.ObserveUpload(time.Since(start), len(chunk))
		}
		if err != nil {
			return r.transportFailure(ctx, fmt.Sprintf("upload part %d/%d", i+1, len(chunks)), err)
		}
	}

	start = time.Now()
	_, err = r.o.api.CloseJob(ctx, r.job.ID)
	if r.o.timings != nil {
		r.o.timings.ObserveClose(time.Since(start))
	}
	if err != nil {
		return r.transportFailure(ctx, "close job", err)
	}
	r.move(StateProcessing, "upload complete")

	info, report := r.poll(ctx)
	if report != nil {
		return report
	}
	return r.collect(ctx, info)
}

// poll waits for the job to leave processing. A non-nil report means the
// run ended without completing.
func (r *run) poll(ctx context.Context) (client.JobInfo, *Report) {
	p := r.o.policy
	start := r.o.clock.Now()
	pollErrs := 0
	var floor time.Duration

	for attempt := 0; ; attempt++ {
		if attempt >= p.MaxAttempts {
			return client.JobInfo{}, r.abort(ctx, record.KindTimeout, CodePollTimeout,
				fmt.Sprintf("job still processing after %d status polls", attempt), nil)
		}

		delay := p.Delay(attempt, r.o.rand())
		if delay < floor {
			delay = floor
		}
		floor = 0

		elapsed := r.o.clock.Now().Sub(start)
		if elapsed+delay > p.MaxWait {
			return client.JobInfo{}, r.abort(ctx, record.KindTimeout, CodePollTimeout,
				fmt.Sprintf("job still processing after %v (max wait %v)", elapsed, p.MaxWait), nil)
		}

		select {
		case <-ctx.Done():
			return client.JobInfo{}, r.abort(ctx, record.KindAborted, CodeCanceled, "canceled while waiting for job", ctx.Err())
		case <-r.o.clock.After(delay):
		}

		t0 := time.Now()
		info, err := r.o.api.GetJob(ctx, r.job.ID)
		if r.o.timings != nil {
			r.o.timings.ObservePoll(time.Since(t0), err != nil)
		}
		if err != nil {
			if ctx.Err() != nil {
				return client.JobInfo{}, r.abort(ctx, record.KindAborted, CodeCanceled, "canceled while polling job", ctx.Err())
			}
			pollErrs++
			r.log.Warn("job status poll failed", "attempt", attempt+1, "consecutive_errors", pollErrs, "error", err)
			if pollErrs > p.MaxPollErrors {
				return client.JobInfo{}, r.abort(ctx, record.KindTimeout, CodePollErrors,
					fmt.Sprintf("%d consecutive status polls failed: %v", pollErrs, err), err)
			}
			if httpErr, ok := client.GetHTTPError(err); ok && httpErr.RetryAfter > 0 {
				floor = httpErr.RetryAfter
			}
			continue
		}
		pollErrs = 0

		r.log.Debug("job status", "attempt", attempt+1, "state", info.State, "processed", info.NumberRecordsProcessed)

		switch info.State {
		case client.JobComplete:
			return info, nil
		case client.JobFailed:
			msg := info.ErrorMessage
			if msg == "" {
				msg = "job failed"
			}
			return info, r.finish(StateFailed, &JobError{Kind: record.KindJobFailed, Code: CodeJobFailed, Message: msg})
		case client.JobAborted:
			return info, r.finish(StateAborted, &JobError{Kind: record.KindAborted, Code: CodeRemoteAborted, Message: "job was aborted in Salesforce"})
		}
	}
}

// collect downloads and reconciles the results of a completed job
func (r *run) collect(ctx context.Context, info client.JobInfo) *Report {
	var all []RowResult
	for _, set := range []client.ResultSet{client.SuccessfulResults, client.FailedResults, client.UnprocessedRecords} {
		data, err := r.fetch(ctx, set)
		if err != nil {
			if ctx.Err() != nil {
				return r.finish(StateAborted, &JobError{Kind: record.KindAborted, Code: CodeCanceled, Message: "canceled while downloading results", Err: ctx.Err()})
			}
			return r.finish(StateAborted, &JobError{
				Kind: record.KindUnresolved, Code: CodeResultsUnavailable,
				Message: fmt.Sprintf("download %s: %v", set, err), Err: err,
			})
		}

		rows, err := ParseResults(r.req, set, data)
		if err != nil {
			return r.finish(StateFailed, &JobError{Kind: record.KindJobFailed, Code: CodeResultsMalformed, Message: err.Error(), Err: err})
		}
		all = append(all, rows...)
	}

	submitted := len(r.req.Rows)
	if info.NumberRecordsProcessed != int64(submitted) || len(all) > submitted {
		return r.finish(StateFailed, &JobError{
			Kind: record.KindJobFailed, Code: CodeRowCountMismatch,
			Message: fmt.Sprintf("submitted %d rows, job processed %d and returned %d results",
				submitted, info.NumberRecordsProcessed, len(all)),
		})
	}

	r.move(StateCompleted, fmt.Sprintf("%d results", len(all)))
	rec := Reconcile(r.req, all, r.job.ID)
	if len(rec.Unmatched) > 0 {
		r.log.Warn("result rows matched no submitted row", "count", len(rec.Unmatched))
	}

	failed := 0
	for _, out := range rec.Outcomes {
		if !out.Success {
			failed++
		}
	}
	r.log.Info("bulk job completed", "succeeded", len(rec.Outcomes)-failed, "failed", failed)

	return &Report{Job: r.job, Results: rec.Matched, Outcomes: rec.Outcomes}
}

// fetch downloads one result set, retrying failed downloads like failed polls
func (r *run) fetch(ctx context.Context, set client.ResultSet) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= r.o.policy.MaxPollErrors; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-r.o.clock.After(r.o.policy.Delay(attempt-1, r.o.rand())):
			}
		}

		start := time.Now()
		data, err := r.o.api.JobResults(ctx, r.job.ID, set)
		if r.o.timings != nil {
			r.o.timings.ObserveResults(time.Since(start))
		}
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.log.Warn("result download failed", "set", set, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// transportFailure handles an error of the submission phase: the job (if any)
// is aborted remotely and the batch fails without retry.
func (r *run) transportFailure(ctx context.Context, stage string, err error) *Report {
	if ctx.Err() != nil {
		return r.abort(ctx, record.KindAborted, CodeCanceled, "canceled during "+stage, err)
	}
	if r.job.ID != "" {
		r.abortRemote(ctx)
	}

	je := &JobError{
		Kind:    record.KindTransport,
		Code:    CodeTransport,
		Message: fmt.Sprintf("%s: %v", stage, err),
		Err:     err,
	}
	if httpErr, ok := client.GetHTTPError(err); ok {
		je.StatusCode = httpErr.StatusCode
		if httpErr.ErrorCode != "" {
			je.Code = httpErr.ErrorCode
		}
	}
	return r.finish(StateFailed, je)
}

// abort gives up on the job, aborting it remotely when it exists
func (r *run) abort(ctx context.Context, kind record.Kind, code, msg string, err error) *Report {
	if r.job.ID != "" {
		r.abortRemote(ctx)
	}
	return r.finish(StateAborted, &JobError{Kind: kind, Code: code, Message: msg, Err: err})
}

func (r *run) abortRemote(ctx context.Context) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()
	if _, err := r.o.api.AbortJob(actx, r.job.ID); err != nil {
		r.log.Warn("remote job abort failed", "error", err)
		return
	}
	r.log.Info("remote job aborted")
}

// finish moves the job to a failed or aborted terminal state and builds
// identical outcomes for every row
func (r *run) finish(state State, je *JobError) *Report {
	r.move(state, je.Code)

	je.JobID = r.job.ID
	je.ObjectType = r.req.ObjectType
	je.Operation = r.req.Operation
	je.State = state

	retryable := je.Kind == record.KindTimeout || je.Kind == record.KindAborted || je.Kind == record.KindUnresolved
	if je.Kind == record.KindTransport {
		retryable = client.IsRetryable(je.Err)
	}

	outcomes := make([]record.Outcome, len(r.req.Rows))
	for i, row := range r.req.Rows {
		outcomes[i] = record.Outcome{
			Index:        row.Index,
			Kind:         je.Kind,
			StatusCode:   je.StatusCode,
			ErrorCode:    je.Code,
			ErrorMessage: je.Message,
			JobID:        r.job.ID,
			ObjectType:   r.req.ObjectType,
			Operation:    r.req.Operation,
			Retryable:    retryable,
		}
	}

	r.log.Error("bulk job did not complete", "state", state, "kind", je.Kind, "code", je.Code, "error", je.Message)
	r.span.RecordError(je)
	return &Report{Job: r.job, Outcomes: outcomes, Err: je}
}

func (r *run) move(to State, reason string) {
	from := r.job.State
	if err := r.job.transition(to, r.o.clock.Now(), reason); err != nil {
		// Only reachable through a programming error in this file
		r.log.Error("state transition rejected", "error", err)
		return
	}
	r.span.AddEvent("transition", trace.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
		attribute.String("reason", reason),
	))
	r.log.Debug("job state changed", "from", from, "to", to, "reason", reason)
}

// IsTimeout reports whether err is a job that was given up on while processing
func IsTimeout(err error) bool {
	var je *JobError
	return errors.As(err, &je) && je.Kind == record.KindTimeout
}
