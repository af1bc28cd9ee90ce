// Package bulk runs homogeneous record batches through the Salesforce Bulk
// API 2.0: it builds the CSV job body, drives the job lifecycle and reconciles
// per-row results back to the originating batch.
package bulk

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/ryabkov82/sf-sync-server/internal/client"
	"github.com/ryabkov82/sf-sync-server/internal/record"
)

// NullCell is how the Bulk API expects a field to be set to null
const NullCell = "#N/A"

// IDColumn is the record id column used by update and delete jobs
const IDColumn = "Id"

// createKeySpace namespaces the synthetic row keys of create jobs
var createKeySpace = uuid.MustParse("6f1c1bd4-3a8e-4f5e-9d57-2f0b7c1e9a41")

// Row is one serialized job row
type Row struct {
	// Index is the payload's rawEventIndex
	Index int
	// Key identifies the row in the result files
	Key    string
	Values []string
}

// JobRequest is the serialized body of one bulk job
type JobRequest struct {
	ObjectType      string
	Operation       record.Operation
	ExternalIDField string
	// KeyColumn is the uploaded column holding the row key. It is empty for
	// create jobs, whose keys are synthetic and never uploaded.
	KeyColumn string
	Columns   []string
	Rows      []Row
}

// Build serializes a homogeneous batch into a job request. Rows keep batch order.
func Build(batch []record.Payload) (*JobRequest, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("build job: empty batch")
	}
	first := batch[0]
	if err := record.ValidateBatch(batch, first.ObjectType, first.Operation); err != nil {
		return nil, err
	}

	req := &JobRequest{
		ObjectType: first.ObjectType,
		Operation:  first.Operation,
	}

	switch first.Operation {
	case record.OpUpdate, record.OpDelete:
		req.KeyColumn = IDColumn
	case record.OpUpsert:
		if first.ExternalIDField == "" {
			return nil, &record.ConfigError{
				ObjectType: first.ObjectType, Operation: first.Operation, Index: -1,
				Field: "externalIdField", Reason: "external id field is required for bulk upsert",
			}
		}
		req.ExternalIDField = first.ExternalIDField
		req.KeyColumn = first.ExternalIDField
	}

	if req.KeyColumn != "" {
		req.Columns = append(req.Columns, req.KeyColumn)
	}
	if first.Operation != record.OpDelete {
		seen := map[string]bool{}
		if req.KeyColumn != "" {
			seen[strings.ToLower(req.KeyColumn)] = true
		}
		for _, p := range batch {
			for _, f := range p.Fields {
				name := strings.ToLower(f.Name)
				if seen[name] {
					continue
				}
				seen[name] = true
				req.Columns = append(req.Columns, f.Name)
			}
		}
	}

	for _, p := range batch {
		row := Row{Index: p.Index, Values: make([]string, len(req.Columns))}
		for i, col := range req.Columns {
			if col == req.KeyColumn {
				continue
			}
			if v, ok := p.Fields.Get(col); ok {
				row.Values[i] = cell(v)
			}
		}

		switch first.Operation {
		case record.OpUpdate, record.OpDelete:
			row.Values[0] = normalize(p.RecordID)
			row.Key = keyText(row.Values[0])
		case record.OpUpsert:
			row.Values[0] = normalize(p.ExternalID())
			row.Key = keyText(row.Values[0])
		default:
			row.Key = syntheticKey(req.Columns, row.Values)
		}
		req.Rows = append(req.Rows, row)
	}

	return req, nil
}

// Spec returns the create-job body for the request
func (r *JobRequest) Spec() client.JobSpec {
	return client.JobSpec{
		Object:              r.ObjectType,
		Operation:           string(r.Operation),
		ExternalIDFieldName: r.ExternalIDField,
		ContentType:         "CSV",
		ColumnDelimiter:     "COMMA",
		LineEnding:          "LF",
	}
}

// CSV encodes the whole request as one CSV document
func (r *JobRequest) CSV() ([]byte, error) {
	chunks, err := r.Chunks(0)
	if err != nil {
		return nil, err
	}
	return chunks[0], nil
}

// Chunks splits the CSV body into upload parts of at most maxBytes each,
// repeating the header in every part. maxBytes <= 0 means one part.
func (r *JobRequest) Chunks(maxBytes int) ([][]byte, error) {
	header, err := encodeLine(r.Columns)
	if err != nil {
		return nil, err
	}

	var chunks [][]byte
	var cur bytes.Buffer
	cur.Write(header)
	rows := 0

	for _, row := range r.Rows {
		line, err := encodeLine(row.Values)
		if err != nil {
			return nil, err
		}
		if maxBytes > 0 && len(header)+len(line) > maxBytes {
			return nil, fmt.Errorf("row %d is %d bytes, larger than the upload limit of %d", row.Index, len(line), maxBytes)
		}
		if maxBytes > 0 && rows > 0 && cur.Len()+len(line) > maxBytes {
			chunks = append(chunks, append([]byte(nil), cur.Bytes()...))
			cur.Reset()
			cur.Write(header)
			rows = 0
		}
		cur.Write(line)
		rows++
	}
	chunks = append(chunks, append([]byte(nil), cur.Bytes()...))
	return chunks, nil
}

// KeyOf derives the row key from the original columns echoed in a result row
func (r *JobRequest) KeyOf(values map[string]string) string {
	if r.KeyColumn != "" {
		return keyText(normalize(lookupColumn(values, r.KeyColumn)))
	}
	cells := make([]string, len(r.Columns))
	for i, col := range r.Columns {
		cells[i] = normalize(lookupColumn(values, col))
	}
	return syntheticKey(r.Columns, cells)
}

func lookupColumn(values map[string]string, col string) string {
	if v, ok := values[col]; ok {
		return v
	}
	for k, v := range values {
		if strings.EqualFold(k, col) {
			return v
		}
	}
	return ""
}

func encodeLine(fields []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cell(v record.Value) string {
	if v.IsNull() {
		return NullCell
	}
	return normalize(v.Text())
}

func normalize(s string) string {
	return norm.NFC.String(s)
}

// csv.Reader reads a quoted \r\n back as \n, so keys compare line breaks
// as \n on both the upload and the result side.
var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func keyText(s string) string {
	return lineBreaks.Replace(s)
}

// syntheticKey is a UUIDv5 of the row's column/value pairs
func syntheticKey(columns, values []string) string {
	var b strings.Builder
	for i, col := range columns {
		b.WriteString(strings.ToLower(col))
		b.WriteByte(0x1f)
		b.WriteString(keyText(values[i]))
		b.WriteByte(0x1e)
	}
	return uuid.NewSHA1(createKeySpace, []byte(b.String())).String()
}
