package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ryabkov82/sf-sync-server/internal/client"
	"github.com/ryabkov82/sf-sync-server/internal/httpapi"
	"github.com/ryabkov82/sf-sync-server/internal/job"
	"github.com/ryabkov82/sf-sync-server/internal/record"
	"github.com/ryabkov82/sf-sync-server/internal/syncer"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// stubEngine succeeds every payload, or blocks until canceled when block is set
type stubEngine struct {
	block   bool
	started chan struct{}
	err     error
}

func (s *stubEngine) ProcessBatch(ctx context.Context, _ client.Settings, payloads []record.Payload,
	_ string, _ record.Operation, _ syncer.Options) ([]record.Outcome, error) {
	if s.started != nil {
		close(s.started)
	}
	if s.err != nil {
		return nil, s.err
	}

	outcomes := make([]record.Outcome, len(payloads))
	if s.block {
		<-ctx.Done()
		for i, p := range payloads {
			outcomes[i] = record.Failed(p, record.KindAborted, syncer.CodeCanceled, ctx.Err().Error())
		}
		return outcomes, nil
	}
	for i, p := range payloads {
		outcomes[i] = record.Succeeded(p)
	}
	return outcomes, nil
}

func newQueuedJob(t *testing.T, store *job.Store, n int) *job.Job {
	t.Helper()
	payloads := make([]record.Payload, n)
	for i := range payloads {
		payloads[i] = record.Payload{Operation: record.OpDelete, ObjectType: "Account", RecordID: "001", Index: i}
	}
	j := &job.Job{Request: job.Request{ObjectType: "Account", Operation: record.OpDelete, Payloads: payloads}}
	if _, _, err := store.Create(j); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	return j
}

func waitForStatus(t *testing.T, store *job.Store, id string, want job.JobStatus) job.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		j, err := store.Get(id)
		if err != nil {
			t.Fatalf("Failed to get job: %v", err)
		}
		if j.Status == want {
			return j
		}
		if time.Now().After(deadline) {
			t.Fatalf("Job status = %s, want %s", j.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestJobContextDecoupledFromHTTPRequest checks that a job keeps running
// after the HTTP request that created it has completed.
func TestJobContextDecoupledFromHTTPRequest(t *testing.T) {
	store := job.NewStore(10)
	engine := &stubEngine{}

	handler := httpapi.NewHandler(engine, store, client.Settings{InstanceURL: "https://acme.my.salesforce.com"}, syncer.Options{})
	router := httpapi.NewRouter(handler, httpapi.RouterConfig{})

	reqCtx, cancelReq := context.WithCancel(context.Background())
	body := `{"objectType": "Account", "operation": "delete", "payloads": [{"recordId": "001A"}, {"recordId": "001B"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body)).WithContext(reqCtx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	cancelReq()

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go worker(workerCtx, store, engine, discard)

	j := waitForStatus(t, store, created.JobID, job.StatusSucceeded)
	if j.RecordsSucceeded != 2 {
		t.Errorf("Expected 2 succeeded records, got %d", j.RecordsSucceeded)
	}
	if len(j.Outcomes) != 2 {
		t.Errorf("Expected 2 outcomes, got %d", len(j.Outcomes))
	}
}

func TestProcessJobCanceledWhileRunning(t *testing.T) {
	store := job.NewStore(10)
	j := newQueuedJob(t, store, 3)
	engine := &stubEngine{block: true, started: make(chan struct{})}

	done := make(chan struct{})
	go func() {
		processJob(context.Background(), j, store, engine, discard)
		close(done)
	}()

	<-engine.started
	if err := store.Cancel(j.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	<-done

	got, _ := store.Get(j.ID)
	if got.Status != job.StatusCanceled {
		t.Errorf("Expected status canceled, got %s", got.Status)
	}
	if got.RecordsRetryable != 3 {
		t.Errorf("Expected 3 retryable records, got %d", got.RecordsRetryable)
	}
}

func TestProcessJobSkipsJobCanceledWhileQueued(t *testing.T) {
	store := job.NewStore(10)
	j := newQueuedJob(t, store, 1)
	engine := &stubEngine{started: make(chan struct{})}

	if err := store.Cancel(j.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	processJob(context.Background(), j, store, engine, discard)

	select {
	case <-engine.started:
		t.Error("Canceled job should not be processed")
	default:
	}
	got, _ := store.Get(j.ID)
	if got.Status != job.StatusCanceled {
		t.Errorf("Expected status canceled, got %s", got.Status)
	}
}

func TestProcessJobEngineError(t *testing.T) {
	store := job.NewStore(10)
	j := newQueuedJob(t, store, 2)
	engine := &stubEngine{err: errors.New("connect to https://acme.my.salesforce.com: refused")}

	processJob(context.Background(), j, store, engine, discard)

	got, _ := store.Get(j.ID)
	if got.Status != job.StatusFailed {
		t.Errorf("Expected status failed, got %s", got.Status)
	}
	if !strings.Contains(got.LastError, "refused") {
		t.Errorf("Expected lastError to mention the cause, got %q", got.LastError)
	}
}

func TestProcessJobInterruptedByShutdown(t *testing.T) {
	store := job.NewStore(10)
	j := newQueuedJob(t, store, 1)
	engine := &stubEngine{block: true, started: make(chan struct{})}

	ctx, shutdown := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		processJob(ctx, j, store, engine, discard)
		close(done)
	}()

	<-engine.started
	shutdown()
	<-done

	got, _ := store.Get(j.ID)
	if got.Status != job.StatusFailed {
		t.Errorf("Expected status failed, got %s", got.Status)
	}
	if !strings.Contains(got.LastError, "shutdown") {
		t.Errorf("Expected shutdown in lastError, got %q", got.LastError)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "sf-sync-server ") {
		t.Errorf("Unexpected version output %q", out.String())
	}
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	t.Setenv("PORT", "0")

	cmd := newRootCommand()
	cmd.SetArgs([]string{"serve"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "server.port") {
		t.Fatalf("Expected port validation error, got %v", err)
	}
}
