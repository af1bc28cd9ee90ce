package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ryabkov82/sf-sync-server/internal/record"
)

func newTestJob(key string) *Job {
	return &Job{
		IdempotencyKey: key,
		Request: Request{
			ObjectType: "Account",
			Operation:  record.OpCreate,
			Payloads: []record.Payload{
				{Operation: record.OpCreate, ObjectType: "Account", Index: 0},
				{Operation: record.OpCreate, ObjectType: "Account", Index: 1},
				{Operation: record.OpCreate, ObjectType: "Account", Index: 2},
			},
		},
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	store := NewStore(10)

	id, existing, err := store.Create(newTestJob(""))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if existing {
		t.Error("Create() reported an existing job for a new request")
	}

	j, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if j.Status != StatusQueued {
		t.Errorf("Expected status queued, got %s", j.Status)
	}
	if j.RecordsTotal != 3 {
		t.Errorf("Expected RecordsTotal=3, got %d", j.RecordsTotal)
	}

	_, err = store.Get("missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Get() for unknown id should return ErrJobNotFound, got %v", err)
	}
}

func TestStoreCreateQueueFull(t *testing.T) {
	store := NewStore(5)

	for i := 0; i < 5; i++ {
		if _, _, err := store.Create(newTestJob(fmt.Sprintf("key-%d", i))); err != nil {
			t.Fatalf("Create() should succeed when queue has space: %v", err)
		}
	}

	_, _, err := store.Create(newTestJob("key-overflow"))
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Create() should return ErrQueueFull when queue is full, got: %v", err)
	}

	store.mu.RLock()
	jobCount := len(store.jobs)
	_, keyBound := store.activeByKey["key-overflow"]
	store.mu.RUnlock()
	if jobCount != 5 {
		t.Errorf("Expected 5 jobs, got %d", jobCount)
	}
	if keyBound {
		t.Error("Rejected job must not hold its idempotency key")
	}
}

func TestStoreIdempotencyKey(t *testing.T) {
	store := NewStore(10)

	first, _, err := store.Create(newTestJob("batch-42"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	second, existing, err := store.Create(newTestJob("batch-42"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !existing || second != first {
		t.Errorf("Expected existing job %s, got %s (existing=%v)", first, second, existing)
	}

	// Once finished, the key may start a new job
	if _, err := store.Start(first); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := store.Finish(first, nil, nil); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	third, existing, err := store.Create(newTestJob("batch-42"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if existing || third == first {
		t.Errorf("Expected a new job after the first finished, got %s (existing=%v)", third, existing)
	}
}

func TestStoreFinishCounters(t *testing.T) {
	store := NewStore(10)
	id, _, _ := store.Create(newTestJob(""))
	store.Start(id)

	outcomes := []record.Outcome{
		{Index: 0, Success: true, Kind: record.KindSuccess},
		{Index: 1, Kind: record.KindRowFailed, ErrorCode: "DUPLICATE_VALUE"},
		{Index: 2, Kind: record.KindUnresolved, Retryable: true},
	}
	if err := store.Finish(id, outcomes, nil); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	j, _ := store.Get(id)
	if j.Status != StatusSucceeded {
		t.Errorf("Expected status succeeded, got %s", j.Status)
	}
	if j.RecordsSucceeded != 1 || j.RecordsFailed != 2 || j.RecordsRetryable != 1 {
		t.Errorf("Unexpected counters: succeeded=%d failed=%d retryable=%d",
			j.RecordsSucceeded, j.RecordsFailed, j.RecordsRetryable)
	}
	if j.StartedAt == nil || j.FinishedAt == nil {
		t.Error("Expected StartedAt and FinishedAt to be set")
	}

	// Snapshots do not share the outcome slice
	j.Outcomes[0].Success = false
	again, _ := store.Get(id)
	if !again.Outcomes[0].Success {
		t.Error("Get() returned a snapshot sharing outcomes with the store")
	}
}

func TestStoreFinishWithError(t *testing.T) {
	store := NewStore(10)
	id, _, _ := store.Create(newTestJob(""))
	store.Start(id)

	if err := store.Finish(id, nil, errors.New("connect: invalid instance url")); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	j, _ := store.Get(id)
	if j.Status != StatusFailed {
		t.Errorf("Expected status failed, got %s", j.Status)
	}
	if j.LastError == "" {
		t.Error("Expected LastError to be set")
	}
}

func TestStoreCancelQueued(t *testing.T) {
	store := NewStore(10)
	id, _, _ := store.Create(newTestJob("k"))

	if err := store.Cancel(id); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	started, err := store.Start(id)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if started {
		t.Error("Start() should refuse a job canceled while queued")
	}

	if err := store.Cancel(id); !errors.Is(err, ErrJobFinished) {
		t.Errorf("Second Cancel() should return ErrJobFinished, got %v", err)
	}

	// The key is released with the canceled job
	if _, existing, _ := store.Create(newTestJob("k")); existing {
		t.Error("Canceled job should not absorb new requests with its key")
	}
}

func TestStoreCancelRunningKeepsIdempotencyKey(t *testing.T) {
	store := NewStore(10)
	id, _, _ := store.Create(newTestJob("batch-7"))
	store.Start(id)
	store.SetCancel(id, func() {})

	if err := store.Cancel(id); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	// The bulk job may still be processing until the worker finishes
	again, existing, err := store.Create(newTestJob("batch-7"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !existing || again != id {
		t.Errorf("Expected canceled job %s to hold its key, got %s (existing=%v)", id, again, existing)
	}

	store.Finish(id, nil, context.Canceled)
	store.ClearCancel(id)

	next, existing, err := store.Create(newTestJob("batch-7"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if existing || next == id {
		t.Errorf("Expected a new job once the canceled run finished, got %s (existing=%v)", next, existing)
	}
}

func TestStoreCancelRunning(t *testing.T) {
	store := NewStore(10)
	id, _, _ := store.Create(newTestJob(""))
	store.Start(id)

	ctx, cancel := context.WithCancel(context.Background())
	if err := store.SetCancel(id, cancel); err != nil {
		t.Fatalf("SetCancel() error = %v", err)
	}

	if err := store.Cancel(id); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Context should be canceled")
	}

	aborted := []record.Outcome{{Index: 0, Kind: record.KindAborted, Retryable: true}}
	store.Finish(id, aborted, nil)
	store.ClearCancel(id)

	j, _ := store.Get(id)
	if j.Status != StatusCanceled {
		t.Errorf("Expected status canceled, got %s", j.Status)
	}
	if len(j.Outcomes) != 1 {
		t.Errorf("Expected outcomes of the canceled run to be kept, got %d", len(j.Outcomes))
	}
}

// TestStoreCreateRace checks that a job is registered before a worker can
// receive it from the queue
func TestStoreCreateRace(t *testing.T) {
	store := NewStore(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const jobs = 50
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < jobs; i++ {
			j, err := store.NextJob(ctx)
			if err != nil {
				t.Errorf("NextJob() error = %v", err)
				return
			}
			if _, err := store.Start(j.ID); err != nil {
				t.Errorf("Start() error = %v (job should be registered)", err)
			}
			store.Finish(j.ID, nil, nil)
		}
	}()

	for created := 0; created < jobs; {
		_, _, err := store.Create(newTestJob(""))
		if errors.Is(err, ErrQueueFull) {
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		created++
	}
	wg.Wait()
}
