package bulk

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ryabkov82/sf-sync-server/internal/client"
)

// Result file columns added by Salesforce
const (
	colID      = "sf__Id"
	colCreated = "sf__Created"
	colError   = "sf__Error"
)

// RowResult is one row outcome read from a completed job
type RowResult struct {
	// Key is the row identifier read back from the result file
	Key string `json:"key"`
	// RowIndex is the rawEventIndex the row was matched to, -1 until reconciled
	RowIndex     int    `json:"rowIndex"`
	Success      bool   `json:"success"`
	RecordID     string `json:"recordId,omitempty"`
	Created      bool   `json:"created,omitempty"`
	CreatedID    string `json:"createdId,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Unprocessed  bool   `json:"unprocessed,omitempty"`
}

// ParseResults reads one result file of a completed job
func ParseResults(req *JobRequest, set client.ResultSet, data []byte) ([]RowResult, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", set, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var results []RowResult
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", set, line, err)
		}
		if len(rec) != len(header) {
			return nil, fmt.Errorf("%s: line %d has %d columns, header has %d", set, line, len(rec), len(header))
		}

		values := make(map[string]string, len(header))
		var sfID, sfCreated, sfError string
		for i, col := range header {
			switch col {
			case colID:
				sfID = rec[i]
			case colCreated:
				sfCreated = rec[i]
			case colError:
				sfError = rec[i]
			default:
				values[col] = rec[i]
			}
		}

		rr := RowResult{Key: req.KeyOf(values), RowIndex: -1, RecordID: sfID}
		switch set {
		case client.SuccessfulResults:
			rr.Success = true
			rr.Created = strings.EqualFold(sfCreated, "true")
			if rr.Created {
				rr.CreatedID = sfID
			}
		case client.FailedResults:
			rr.ErrorCode, rr.ErrorMessage = splitRowError(sfError)
		case client.UnprocessedRecords:
			rr.Unprocessed = true
			rr.ErrorCode = CodeUnprocessed
			rr.ErrorMessage = "record was not processed by the job"
		}
		results = append(results, rr)
	}
	return results, nil
}

var errorCodePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// splitRowError splits "CODE:message" as written in sf__Error
func splitRowError(s string) (string, string) {
	s = strings.TrimSpace(s)
	if code, msg, ok := strings.Cut(s, ":"); ok && errorCodePattern.MatchString(code) {
		return code, strings.TrimSpace(msg)
	}
	return "", s
}
