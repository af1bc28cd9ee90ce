// Package record holds the payload and outcome model shared by the
// single-record and bulk synchronization paths, plus the lookup validator.
package record

import (
	"fmt"
	"strings"
)

// Operation is the record operation requested for a payload
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpUpsert Operation = "upsert"
	OpDelete Operation = "delete"
)

// ParseOperation parses an operation name (case-insensitive)
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	if !op.Valid() {
		return "", fmt.Errorf("unknown operation %q: must be create, update, upsert or delete", s)
	}
	return op, nil
}

// Valid reports whether op is one of the known operations
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpUpsert, OpDelete:
		return true
	}
	return false
}

// MatcherOperator combines lookup traits when matching an existing record
type MatcherOperator string

const (
	MatchOR  MatcherOperator = "OR"
	MatchAND MatcherOperator = "AND"
)

// ParseMatcherOperator parses OR/AND, defaulting to OR when empty
func ParseMatcherOperator(s string) (MatcherOperator, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "OR":
		return MatchOR, nil
	case "AND":
		return MatchAND, nil
	}
	return "", fmt.Errorf("unknown recordMatcherOperator %q: must be OR or AND", s)
}

// Payload is one logical record operation against a CRM object
type Payload struct {
	Operation  Operation `json:"operation"`
	ObjectType string    `json:"objectType"`

	// ExternalIDField and ExternalIDValue address a record by a unique
	// caller-supplied field. Required for bulk upsert.
	ExternalIDField string `json:"externalIdField,omitempty"`
	ExternalIDValue string `json:"externalIdValue,omitempty"`

	// RecordID is the CRM's own id. Required for bulk update/delete.
	RecordID string `json:"recordId,omitempty"`

	Fields Fields `json:"fields,omitempty"`

	// Lookup holds traits used to find an existing record when neither
	// RecordID nor an external id is given (single-record path only).
	Lookup          Fields          `json:"lookup,omitempty"`
	MatcherOperator MatcherOperator `json:"recordMatcherOperator,omitempty"`

	// Index is the payload's position in the originating batch.
	Index int `json:"index"`
}

// ExternalID returns the external id value, falling back to the value of
// the external id field inside Fields.
func (p Payload) ExternalID() string {
	if p.ExternalIDValue != "" {
		return p.ExternalIDValue
	}
	if p.ExternalIDField == "" {
		return ""
	}
	if v, ok := p.Fields.Get(p.ExternalIDField); ok && !v.IsNull() {
		return v.Text()
	}
	return ""
}

// Kind classifies an Outcome
type Kind string

const (
	KindSuccess    Kind = "success"
	KindConfig     Kind = "config"
	KindTransport  Kind = "transport"
	KindJobFailed  Kind = "job_failed"
	KindRowFailed  Kind = "row_failed"
	KindTimeout    Kind = "timeout"
	KindAborted    Kind = "aborted"
	KindUnresolved Kind = "unresolved"
)

// Outcome is the per-record result returned to the caller
type Outcome struct {
	Index        int       `json:"index"`
	Success      bool      `json:"success"`
	Kind         Kind      `json:"kind"`
	StatusCode   int       `json:"statusCode,omitempty"`
	RecordID     string    `json:"recordId,omitempty"`
	CreatedID    string    `json:"createdId,omitempty"`
	ErrorCode    string    `json:"errorCode,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	JobID        string    `json:"jobId,omitempty"`
	ObjectType   string    `json:"objectType"`
	Operation    Operation `json:"operation"`
	Retryable    bool      `json:"retryable"`
}

// Succeeded returns a success outcome for p
func Succeeded(p Payload) Outcome {
	return Outcome{
		Index:      p.Index,
		Success:    true,
		Kind:       KindSuccess,
		ObjectType: p.ObjectType,
		Operation:  p.Operation,
	}
}

// Failed returns a failure outcome for p
func Failed(p Payload, kind Kind, code, message string) Outcome {
	return Outcome{
		Index:        p.Index,
		Kind:         kind,
		ErrorCode:    code,
		ErrorMessage: message,
		ObjectType:   p.ObjectType,
		Operation:    p.Operation,
		Retryable:    kind == KindTimeout || kind == KindAborted,
	}
}
