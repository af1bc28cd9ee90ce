package bulk

import (
	"fmt"
	"sync"
	"time"
)

// Timings tracks timing metrics for the stages of bulk jobs.
// One Timings may be shared by concurrent runs.
type Timings struct {
	mu sync.Mutex

	CreateTotal time.Duration
	CreateCount int64

	UploadTotal time.Duration
	UploadCount int64
	UploadBytes int64

	CloseTotal time.Duration
	CloseCount int64

	PollTotal    time.Duration
	PollAttempts int64
	PollErrors   int64

	ResultsTotal time.Duration
	ResultsCount int64

	JobsCompleted int64
	JobsFailed    int64
	JobsAborted   int64
}

// NewTimings creates a new Timings instance
func NewTimings() *Timings {
	return &Timings{}
}

// ObserveCreate records a create-job call duration
func (t *Timings) ObserveCreate(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CreateTotal += d
	t.CreateCount++
}

// ObserveUpload records an upload call duration and its size
func (t *Timings) ObserveUpload(d time.Duration, size int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.UploadTotal += d
	t.UploadCount++
	t.UploadBytes += int64(size)
}

// ObserveClose records a close-job call duration
func (t *Timings) ObserveClose(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CloseTotal += d
	t.CloseCount++
}

// ObservePoll records a status poll; failed polls are counted separately
func (t *Timings) ObservePoll(d time.Duration, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.PollTotal += d
	t.PollAttempts++
	if failed {
		t.PollErrors++
	}
}

// ObserveResults records a result download duration
func (t *Timings) ObserveResults(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ResultsTotal += d
	t.ResultsCount++
}

// ObserveFinal counts a job by terminal state
func (t *Timings) ObserveFinal(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch s {
	case StateCompleted:
		t.JobsCompleted++
	case StateFailed:
		t.JobsFailed++
	case StateAborted:
		t.JobsAborted++
	}
}

// String returns a formatted summary of all timings
func (t *Timings) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result string

	if t.CreateCount > 0 {
		result += fmt.Sprintf("Create: total=%v count=%d avg=%v; ", t.CreateTotal, t.CreateCount, t.CreateTotal/time.Duration(t.CreateCount))
	}
	if t.UploadCount > 0 {
		result += fmt.Sprintf("Upload: total=%v count=%d bytes=%d avg=%v; ", t.UploadTotal, t.UploadCount, t.UploadBytes, t.UploadTotal/time.Duration(t.UploadCount))
	}
	if t.CloseCount > 0 {
		result += fmt.Sprintf("Close: total=%v count=%d; ", t.CloseTotal, t.CloseCount)
	}
	if t.PollAttempts > 0 {
		result += fmt.Sprintf("Poll: total=%v attempts=%d errors=%d; ", t.PollTotal, t.PollAttempts, t.PollErrors)
	}
	if t.ResultsCount > 0 {
		result += fmt.Sprintf("Results: total=%v count=%d; ", t.ResultsTotal, t.ResultsCount)
	}
	if t.JobsCompleted+t.JobsFailed+t.JobsAborted > 0 {
		result += fmt.Sprintf("Jobs: completed=%d failed=%d aborted=%d; ", t.JobsCompleted, t.JobsFailed, t.JobsAborted)
	}

	if result == "" {
		return "No timings recorded"
	}

	// Remove trailing "; "
	return result[:len(result)-2]
}
