package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ryabkov82/sf-sync-server/internal/client"
	"github.com/ryabkov82/sf-sync-server/internal/job"
	"github.com/ryabkov82/sf-sync-server/internal/record"
	"github.com/ryabkov82/sf-sync-server/internal/syncer"
)

// batchProcessor is the part of syncer.Engine the workers use
type batchProcessor interface {
	ProcessBatch(ctx context.Context, settings client.Settings, payloads []record.Payload,
		objectType string, op record.Operation, opts syncer.Options) ([]record.Outcome, error)
}

// worker processes jobs from the queue, one at a time
func worker(ctx context.Context, store *job.Store, engine batchProcessor, logger *slog.Logger) {
	for {
		j, err := store.NextJob(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("error getting next job", "error", err)
			time.Sleep(time.Second)
			continue
		}

		processJob(ctx, j, store, engine, logger)
	}
}

// processJob runs one job. The job context derives from the worker context,
// not from the HTTP request that created the job.
func processJob(ctx context.Context, j *job.Job, store *job.Store, engine batchProcessor, logger *slog.Logger) {
	req := j.Request
	log := logger.With("job_id", j.ID, "object", req.ObjectType, "operation", string(req.Operation))

	started, err := store.Start(j.ID)
	if err != nil {
		log.Error("failed to start job", "error", err)
		return
	}
	if !started {
		log.Info("job skipped", "reason", "canceled while queued")
		return
	}

	jobCtx, jobCancel := context.WithCancel(ctx)
	defer jobCancel()

	if err := store.SetCancel(j.ID, jobCancel); err != nil {
		log.Error("failed to register cancel", "error", err)
	}
	defer store.ClearCancel(j.ID)

	// Cancel may have landed between Start and SetCancel
	if snap, err := store.Get(j.ID); err == nil && snap.Status == job.StatusCanceled {
		jobCancel()
	}

	log.Info("job started", "records", len(req.Payloads))
	start := time.Now()

	outcomes, err := engine.ProcessBatch(jobCtx, req.Settings, req.Payloads, req.ObjectType, req.Operation, req.Options)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("interrupted by shutdown: %w", ctx.Err())
	}

	if finishErr := store.Finish(j.ID, outcomes, err); finishErr != nil {
		log.Error("failed to record job result", "error", finishErr)
		return
	}

	snap, _ := store.Get(j.ID)
	if err != nil {
		log.Error("job failed", "error", err, "duration", time.Since(start))
		return
	}
	log.Info("job finished",
		"status", snap.Status,
		"succeeded", snap.RecordsSucceeded,
		"failed", snap.RecordsFailed,
		"retryable", snap.RecordsRetryable,
		"duration", time.Since(start),
	)
}
