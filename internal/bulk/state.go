package bulk

import (
	"fmt"
	"time"

	"github.com/ryabkov82/sf-sync-server/internal/record"
)

// State is the lifecycle state of a bulk job
type State string

const (
	StateBuilding   State = "BUILDING"
	StateSubmitted  State = "SUBMITTED"
	StateUploading  State = "UPLOADING"
	StateProcessing State = "PROCESSING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
	StateAborted    State = "ABORTED"
)

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateAborted
}

var allowed = map[State][]State{
	StateBuilding:   {StateSubmitted, StateFailed, StateAborted},
	StateSubmitted:  {StateUploading, StateFailed, StateAborted},
	StateUploading:  {StateProcessing, StateFailed, StateAborted},
	StateProcessing: {StateCompleted, StateFailed, StateAborted},
}

// Transition records one state change
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Job is one in-flight bulk job. It is owned by the Orchestrator run that
// created it and is never shared.
type Job struct {
	ID            string           `json:"jobId,omitempty"`
	State         State            `json:"state"`
	ObjectType    string           `json:"objectType"`
	Operation     record.Operation `json:"operation"`
	SubmittedRows int              `json:"submittedRowCount"`
	CreatedAt     time.Time        `json:"createdAt"`
	Transitions   []Transition     `json:"transitions"`
}

func newJob(req *JobRequest, now time.Time) *Job {
	return &Job{
		State:         StateBuilding,
		ObjectType:    req.ObjectType,
		Operation:     req.Operation,
		SubmittedRows: len(req.Rows),
		CreatedAt:     now,
	}
}

// transition moves the job to state to. Illegal transitions are rejected.
func (j *Job) transition(to State, at time.Time, reason string) error {
	for _, next := range allowed[j.State] {
		if next == to {
			j.Transitions = append(j.Transitions, Transition{From: j.State, To: to, At: at, Reason: reason})
			j.State = to
			return nil
		}
	}
	return fmt.Errorf("job %s: illegal transition %s -> %s", j.ID, j.State, to)
}
