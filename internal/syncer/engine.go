// Package syncer is the batch entrypoint: it validates a batch, routes it to
// single-record calls or bulk jobs and returns one outcome per payload.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ryabkov82/sf-sync-server/internal/bulk"
	"github.com/ryabkov82/sf-sync-server/internal/client"
	"github.com/ryabkov82/sf-sync-server/internal/record"
)

// Batch size limits
const (
	DefaultBatchSize = 5000
	MaxBatchSize     = 10000
)

// Code reported for payloads skipped because the caller went away
const CodeCanceled = "CANCELED"

// Options are the per-batch settings recognized by the mapper layer
type Options struct {
	EnableBatching        bool                   `json:"enable_batching" yaml:"enableBatching"`
	BatchSize             int                    `json:"batch_size,omitempty" yaml:"batchSize"`
	RecordMatcherOperator record.MatcherOperator `json:"recordMatcherOperator,omitempty" yaml:"recordMatcherOperator"`
	// MinBulkRows is the smallest batch sent as a bulk job; smaller
	// batches use single-record calls even with batching enabled.
	MinBulkRows int `json:"minBulkRows,omitempty" yaml:"minBulkRows"`
}

func (o Options) withDefaults() Options {
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.RecordMatcherOperator == "" {
		o.RecordMatcherOperator = record.MatchOR
	}
	if o.MinBulkRows <= 0 {
		o.MinBulkRows = 1
	}
	return o
}

func (o Options) validate(objectType string, op record.Operation) error {
	if o.BatchSize < 1 || o.BatchSize > MaxBatchSize {
		return record.BatchError(objectType, op, "batch size %d out of range 1..%d", o.BatchSize, MaxBatchSize)
	}
	if _, err := record.ParseMatcherOperator(string(o.RecordMatcherOperator)); err != nil {
		return record.BatchError(objectType, op, "%v", err)
	}
	return nil
}

// Remote is the API surface of one Salesforce org
type Remote interface {
	Perform(ctx context.Context, p record.Payload) (client.RecordResult, error)
	bulk.API
}

// Dialer returns the remote for the org described by settings
type Dialer func(settings client.Settings) (Remote, error)

// ClientDialer dials real Salesforce clients
func ClientDialer(opts client.Options) Dialer {
	return func(settings client.Settings) (Remote, error) {
		c, err := client.New(settings, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Engine processes record batches. It keeps no per-batch state, so one Engine
// may serve concurrent batches.
type Engine struct {
	dial      Dialer
	validator *record.Validator
	policy    bulk.PollPolicy
	bulkOpts  []bulk.Option
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures an Engine
type Option func(*Engine)

// WithValidator replaces the default validator
func WithValidator(v *record.Validator) Option { return func(e *Engine) { e.validator = v } }

// WithPollPolicy sets the bulk polling policy
func WithPollPolicy(p bulk.PollPolicy) Option { return func(e *Engine) { e.policy = p } }

// WithBulkOptions passes options to every bulk orchestrator
func WithBulkOptions(opts ...bulk.Option) Option {
	return func(e *Engine) { e.bulkOpts = append(e.bulkOpts, opts...) }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithTracerProvider sets the tracer provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer("sf-sync-server/syncer") }
}

// NewEngine creates an engine
func NewEngine(dial Dialer, opts ...Option) *Engine {
	e := &Engine{
		dial:      dial,
		validator: record.NewValidator(nil),
		policy:    bulk.DefaultPollPolicy(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("sf-sync-server/syncer"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessBatch synchronizes payloads and returns exactly one outcome per
// payload, in input order. Batch-level configuration problems are returned
// as a *record.ConfigError before any network call; per-record problems
// become config outcomes.
func (e *Engine) ProcessBatch(ctx context.Context, settings client.Settings, payloads []record.Payload,
	objectType string, op record.Operation, opts Options) ([]record.Outcome, error) {
	if len(payloads) == 0 {
		return []record.Outcome{}, nil
	}

	opts = opts.withDefaults()
	if err := opts.validate(objectType, op); err != nil {
		return nil, err
	}
	if err := record.ValidateBatch(payloads, objectType, op); err != nil {
		return nil, err
	}

	useBulk := opts.EnableBatching && len(payloads) >= opts.MinBulkRows
	mode := record.ModeSingle
	if useBulk {
		mode = record.ModeBulk
	}

	ctx, span := e.tracer.Start(ctx, "syncer.ProcessBatch", trace.WithAttributes(
		attribute.String("object", objectType),
		attribute.String("operation", string(op)),
		attribute.Int("records", len(payloads)),
		attribute.Bool("bulk", useBulk),
	))
	defer span.End()

	log := e.logger.With("object", objectType, "operation", string(op), "records", len(payloads), "bulk", useBulk)

	batch := make([]record.Payload, len(payloads))
	for i, p := range payloads {
		if p.MatcherOperator == "" {
			p.MatcherOperator = opts.RecordMatcherOperator
		}
		batch[i] = p
	}

	outcomes := make([]record.Outcome, len(batch))
	pending := e.validate(batch, mode, outcomes, log)
	if len(pending) == 0 {
		return outcomes, nil
	}

	remote, err := e.dial(settings)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", settings.InstanceURL, err)
	}

	if useBulk {
		e.runBulk(ctx, remote, batch, pending, opts.BatchSize, outcomes, log)
	} else {
		e.runSingle(ctx, remote, batch, pending, outcomes)
	}

	failed := 0
	for _, out := range outcomes {
		if !out.Success {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("failed", failed))
	log.Info("batch processed", "succeeded", len(outcomes)-failed, "failed", failed)
	return outcomes, nil
}

// validate fills config outcomes for invalid payloads and returns the
// positions of the valid ones
func (e *Engine) validate(batch []record.Payload, mode record.Mode, outcomes []record.Outcome, log *slog.Logger) []int {
	valid, err := e.validator.ValidateAll(batch, mode)
	if err == nil {
		return valid
	}

	var merr *multierror.Error
	var errs []error
	if errors.As(err, &merr) {
		errs = merr.Errors
	}

	// ValidateAll reports errors in payload order, one per invalid payload
	next := 0
	for pos := range batch {
		if next < len(valid) && valid[next] == pos {
			next++
			continue
		}
		msg := "invalid record"
		if len(errs) > 0 {
			msg = errs[0].Error()
			errs = errs[1:]
		}
		outcomes[pos] = record.Failed(batch[pos], record.KindConfig, record.ConfigErrorCode, msg)
	}

	log.Warn("records failed validation", "invalid", len(batch)-len(valid), "error", err)
	return valid
}

// runBulk splits the valid payloads into jobs of at most size rows and runs
// them one after another
func (e *Engine) runBulk(ctx context.Context, remote Remote, batch []record.Payload, pending []int, size int,
	outcomes []record.Outcome, log *slog.Logger) {
	timings := bulk.NewTimings()
	opts := append([]bulk.Option{bulk.WithLogger(e.logger)}, e.bulkOpts...)
	orch := bulk.NewOrchestrator(remote, e.policy, append(opts, bulk.WithTimings(timings))...)

	for start := 0; start < len(pending); start += size {
		end := start + size
		if end > len(pending) {
			end = len(pending)
		}
		positions := pending[start:end]

		chunk := make([]record.Payload, len(positions))
		for i, pos := range positions {
			chunk[i] = batch[pos]
		}

		req, err := bulk.Build(chunk)
		if err != nil {
			// ValidateBatch already passed, so this is a per-job problem
			for _, pos := range positions {
				outcomes[pos] = record.Failed(batch[pos], record.KindConfig, record.ConfigErrorCode, err.Error())
			}
			continue
		}

		report := orch.Run(ctx, req)
		for i, pos := range positions {
			outcomes[pos] = report.Outcomes[i]
		}
		if report.Err != nil {
			log.Warn("bulk job did not complete", "job", start/size+1, "error", report.Err)
		}
	}

	log.Info("bulk timings", "timings", timings.String())
}

// runSingle issues one call per valid payload, in order
func (e *Engine) runSingle(ctx context.Context, remote Remote, batch []record.Payload, pending []int, outcomes []record.Outcome) {
	for _, pos := range pending {
		p := batch[pos]
		if err := ctx.Err(); err != nil {
			out := record.Failed(p, record.KindAborted, CodeCanceled, err.Error())
			outcomes[pos] = out
			continue
		}
		res, err := remote.Perform(ctx, p)
		outcomes[pos] = singleOutcome(p, res, err)
	}
}

// singleOutcome maps a single-record call to an outcome, surfacing the remote
// status and error verbatim
func singleOutcome(p record.Payload, res client.RecordResult, err error) record.Outcome {
	if err == nil {
		out := record.Succeeded(p)
		out.StatusCode = res.StatusCode
		out.RecordID = res.ID
		if res.Created {
			out.CreatedID = res.ID
		}
		return out
	}

	var (
		httpErr   *client.HTTPError
		lookupErr *client.LookupError
		cfgErr    *record.ConfigError
	)
	switch {
	case errors.As(err, &httpErr):
		kind := record.KindRowFailed
		if httpErr.Retryable() {
			kind = record.KindTransport
		}
		code := httpErr.ErrorCode
		if code == "" {
			code = fmt.Sprintf("HTTP_%d", httpErr.StatusCode)
		}
		msg := httpErr.Message
		if msg == "" {
			msg = httpErr.Body
		}
		out := record.Failed(p, kind, code, msg)
		out.StatusCode = httpErr.StatusCode
		out.Retryable = httpErr.Retryable()
		return out
	case errors.As(err, &lookupErr):
		return record.Failed(p, record.KindRowFailed, lookupErr.Code, lookupErr.Error())
	case errors.As(err, &cfgErr):
		return record.Failed(p, record.KindConfig, record.ConfigErrorCode, cfgErr.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return record.Failed(p, record.KindAborted, CodeCanceled, err.Error())
	default:
		out := record.Failed(p, record.KindTransport, bulk.CodeTransport, err.Error())
		out.Retryable = true
		return out
	}
}
