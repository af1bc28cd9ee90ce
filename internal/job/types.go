package job

import (
	"time"

	"github.com/ryabkov82/sf-sync-server/internal/client"
	"github.com/ryabkov82/sf-sync-server/internal/record"
	"github.com/ryabkov82/sf-sync-server/internal/syncer"
)

// JobStatus represents the status of a job
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	StatusCanceled  JobStatus = "canceled"
)

// Finished reports whether the status is terminal
func (s JobStatus) Finished() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Request is one batch to synchronize
type Request struct {
	Settings   client.Settings  `json:"settings"`
	ObjectType string           `json:"objectType"`
	Operation  record.Operation `json:"operation"`
	Payloads   []record.Payload `json:"payloads"`
	Options    syncer.Options   `json:"options"`
}

// Job is an asynchronous batch sync
type Job struct {
	ID             string
	IdempotencyKey string
	Request        Request
	Status         JobStatus
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time

	RecordsTotal     int64
	RecordsSucceeded int64
	RecordsFailed    int64
	RecordsRetryable int64

	// Outcomes are set once the batch has been processed
	Outcomes  []record.Outcome
	LastError string
}
