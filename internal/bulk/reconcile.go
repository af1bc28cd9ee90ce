package bulk

import (
	"github.com/ryabkov82/sf-sync-server/internal/record"
)

// Row-level codes assigned locally
const (
	CodeUnprocessed   = "UNPROCESSED"
	CodeResultMissing = "RESULT_MISSING"
)

// retryableRowCodes are row errors that a fresh attempt may clear
var retryableRowCodes = map[string]bool{
	"UNABLE_TO_LOCK_ROW": true,
}

// Reconciliation is the result of matching row results to job rows
type Reconciliation struct {
	// Outcomes has one entry per job row, in row order
	Outcomes []record.Outcome
	// Matched are the row results with RowIndex resolved
	Matched []RowResult
	// Unmatched are row results whose key matched no pending row
	Unmatched []RowResult
}

// Reconcile matches row results to the rows of req by key, never by
// position. Rows sharing a key are matched first-in first-out. Rows left
// without a result are reported as unresolved.
func Reconcile(req *JobRequest, results []RowResult, jobID string) Reconciliation {
	pending := make(map[string][]int, len(req.Rows))
	for i, row := range req.Rows {
		pending[row.Key] = append(pending[row.Key], i)
	}

	resolved := make([]*RowResult, len(req.Rows))
	var rec Reconciliation

	for _, rr := range results {
		queue := pending[rr.Key]
		if len(queue) == 0 {
			rec.Unmatched = append(rec.Unmatched, rr)
			continue
		}
		pos := queue[0]
		pending[rr.Key] = queue[1:]

		rr.RowIndex = req.Rows[pos].Index
		matched := rr
		resolved[pos] = &matched
		rec.Matched = append(rec.Matched, rr)
	}

	rec.Outcomes = make([]record.Outcome, len(req.Rows))
	for i, row := range req.Rows {
		rec.Outcomes[i] = rowOutcome(req, row, resolved[i], jobID)
	}
	return rec
}

func rowOutcome(req *JobRequest, row Row, rr *RowResult, jobID string) record.Outcome {
	out := record.Outcome{
		Index:      row.Index,
		JobID:      jobID,
		ObjectType: req.ObjectType,
		Operation:  req.Operation,
	}

	switch {
	case rr == nil:
		out.Kind = record.KindUnresolved
		out.ErrorCode = CodeResultMissing
		out.ErrorMessage = "job returned no result for this record"
		out.Retryable = true
	case rr.Unprocessed:
		out.Kind = record.KindUnresolved
		out.ErrorCode = rr.ErrorCode
		out.ErrorMessage = rr.ErrorMessage
		out.Retryable = true
	case rr.Success:
		out.Success = true
		out.Kind = record.KindSuccess
		out.RecordID = rr.RecordID
		out.CreatedID = rr.CreatedID
	default:
		out.Kind = record.KindRowFailed
		out.RecordID = rr.RecordID
		out.ErrorCode = rr.ErrorCode
		out.ErrorMessage = rr.ErrorMessage
		out.Retryable = retryableRowCodes[rr.ErrorCode]
	}
	return out
}
