package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ryabkov82/sf-sync-server/internal/record"
)

// DefaultQueueSize is the queue capacity used when none is configured
const DefaultQueueSize = 1000

var (
	// ErrQueueFull is returned when the job queue is full
	ErrQueueFull = errors.New("queue is full")
	// ErrJobNotFound is returned for unknown job ids
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished is returned when canceling a finished job
	ErrJobFinished = errors.New("job already finished")
)

// Store manages jobs in memory
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	queue   chan *Job
	cancels map[string]context.CancelFunc
	// activeByKey maps an idempotency key to its job until the job is finished
	activeByKey map[string]string
}

// NewStore creates a new job store with the given queue capacity
func NewStore(queueSize int) *Store {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Store{
		jobs:        make(map[string]*Job),
		queue:       make(chan *Job, queueSize),
		cancels:     make(map[string]context.CancelFunc),
		activeByKey: make(map[string]string),
	}
}

// Create queues a new job and returns its ID.
// When j carries an idempotency key that belongs to a job the worker has not
// finished yet, that job's ID is returned with existing=true and nothing is
// queued. A running job that was canceled keeps its key until Finish, since
// its bulk job may still be processing remotely.
// Returns ErrQueueFull if the queue is full (job is not created).
func (s *Store) Create(j *Job) (id string, existing bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.IdempotencyKey != "" {
		if activeID, ok := s.activeByKey[j.IdempotencyKey]; ok {
			if active, ok := s.jobs[activeID]; ok && active.FinishedAt == nil {
				return activeID, true, nil
			}
			delete(s.activeByKey, j.IdempotencyKey)
		}
	}

	j.ID = uuid.New().String()
	j.Status = StatusQueued
	j.CreatedAt = time.Now()
	j.RecordsTotal = int64(len(j.Request.Payloads))

	// Register before queueing so the worker never sees an unknown job
	s.jobs[j.ID] = j
	select {
	case s.queue <- j:
	default:
		delete(s.jobs, j.ID)
		return "", false, ErrQueueFull
	}

	if j.IdempotencyKey != "" {
		s.activeByKey[j.IdempotencyKey] = j.ID
	}
	return j.ID, false, nil
}

// Get returns a snapshot of a job
func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	snap := *j
	snap.Outcomes = append([]record.Outcome(nil), j.Outcomes...)
	return snap, nil
}

// Start marks a queued job as running. It returns false when the job was
// canceled while queued.
func (s *Store) Start(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if j.Status != StatusQueued {
		return false, nil
	}
	now := time.Now()
	j.Status = StatusRunning
	j.StartedAt = &now
	return true, nil
}

// Finish stores the outcome of a processed job. A job canceled while
// running keeps its canceled status but still records its outcomes.
func (s *Store) Finish(id string, outcomes []record.Outcome, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	j.Outcomes = outcomes
	j.RecordsSucceeded, j.RecordsFailed, j.RecordsRetryable = 0, 0, 0
	for _, out := range outcomes {
		switch {
		case out.Success:
			j.RecordsSucceeded++
		case out.Retryable:
			j.RecordsFailed++
			j.RecordsRetryable++
		default:
			j.RecordsFailed++
		}
	}

	if err != nil {
		j.LastError = err.Error()
	}

	now := time.Now()
	if j.FinishedAt == nil {
		j.FinishedAt = &now
	}
	if j.Status != StatusCanceled {
		if err != nil {
			j.Status = StatusFailed
		} else {
			j.Status = StatusSucceeded
		}
	}

	if j.IdempotencyKey != "" && s.activeByKey[j.IdempotencyKey] == id {
		delete(s.activeByKey, j.IdempotencyKey)
	}
	return nil
}

// SetCancel registers a cancel function for a job
func (s *Store) SetCancel(jobID string, cf context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	s.cancels[jobID] = cf
	return nil
}

// ClearCancel removes cancel function for a job
func (s *Store) ClearCancel(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cancels, jobID)
}

// Cancel cancels a job. A running job's context is canceled so its bulk
// job is aborted remotely.
func (s *Store) Cancel(id string) error {
	var cf context.CancelFunc

	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	if j.Status.Finished() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobFinished, j.Status)
	}

	cf = s.cancels[id]

	wasQueued := j.Status == StatusQueued
	j.Status = StatusCanceled
	if wasQueued {
		now := time.Now()
		j.FinishedAt = &now
		if j.IdempotencyKey != "" && s.activeByKey[j.IdempotencyKey] == id {
			delete(s.activeByKey, j.IdempotencyKey)
		}
	}
	s.mu.Unlock()

	// Call cancel function outside of lock
	if cf != nil {
		cf()
	}

	return nil
}

// NextJob returns the next job from the queue (blocking)
func (s *Store) NextJob(ctx context.Context) (*Job, error) {
	select {
	case j := <-s.queue:
		return j, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
