package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Bulk API 2.0 job states
const (
	JobOpen           = "Open"
	JobUploadComplete = "UploadComplete"
	JobInProgress     = "InProgress"
	JobComplete       = "JobComplete"
	JobFailed         = "Failed"
	JobAborted        = "Aborted"
)

// ResultSet selects one of the result files of a completed job
type ResultSet string

const (
	SuccessfulResults  ResultSet = "successfulResults"
	FailedResults      ResultSet = "failedResults"
	UnprocessedRecords ResultSet = "unprocessedrecords"
)

// JobSpec is the body of a create-job request
type JobSpec struct {
	Object              string `json:"object"`
	Operation           string `json:"operation"`
	ExternalIDFieldName string `json:"externalIdFieldName,omitempty"`
	ContentType         string `json:"contentType"`
	ColumnDelimiter     string `json:"columnDelimiter"`
	LineEnding          string `json:"lineEnding"`
}

// JobInfo is the job description returned by the ingest endpoints
type JobInfo struct {
	ID                     string `json:"id"`
	State                  string `json:"state"`
	Object                 string `json:"object"`
	Operation              string `json:"operation"`
	CreatedDate            string `json:"createdDate,omitempty"`
	ErrorMessage           string `json:"errorMessage,omitempty"`
	NumberRecordsProcessed int64  `json:"numberRecordsProcessed"`
	NumberRecordsFailed    int64  `json:"numberRecordsFailed"`
}

func (c *Client) jobPath(id string, suffix string) string {
	p := c.dataPath("/jobs/ingest")
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p + suffix
}

// CreateJob opens a new ingest job
func (c *Client) CreateJob(ctx context.Context, spec JobSpec) (JobInfo, error) {
	if spec.ContentType == "" {
		spec.ContentType = "CSV"
	}
	if spec.ColumnDelimiter == "" {
		spec.ColumnDelimiter = "COMMA"
	}
	if spec.LineEnding == "" {
		spec.LineEnding = "LF"
	}

	var info JobInfo
	if _, _, err := c.doJSON(ctx, http.MethodPost, c.jobPath("", ""), spec, &info); err != nil {
		return JobInfo{}, err
	}
	if info.ID == "" {
		return JobInfo{}, fmt.Errorf("create job: response carries no job id")
	}
	return info, nil
}

// UploadJobData uploads one part of CSV job data
func (c *Client) UploadJobData(ctx context.Context, jobID string, data []byte) error {
	_, _, err := c.do(ctx, request{
		method:      http.MethodPut,
		url:         c.jobPath(jobID, "/batches"),
		contentType: "text/csv",
		body:        data,
		gzip:        c.gzip,
	})
	return err
}

// CloseJob marks the upload complete so that Salesforce starts processing
func (c *Client) CloseJob(ctx context.Context, jobID string) (JobInfo, error) {
	return c.setJobState(ctx, jobID, JobUploadComplete)
}

// AbortJob aborts a job that has not finished
func (c *Client) AbortJob(ctx context.Context, jobID string) (JobInfo, error) {
	return c.setJobState(ctx, jobID, JobAborted)
}

func (c *Client) setJobState(ctx context.Context, jobID, state string) (JobInfo, error) {
	var info JobInfo
	body := map[string]string{"state": state}
	if _, _, err := c.doJSON(ctx, http.MethodPatch, c.jobPath(jobID, ""), body, &info); err != nil {
		return JobInfo{}, err
	}
	return info, nil
}

// GetJob returns the current job description
func (c *Client) GetJob(ctx context.Context, jobID string) (JobInfo, error) {
	var info JobInfo
	if _, _, err := c.doJSON(ctx, http.MethodGet, c.jobPath(jobID, ""), nil, &info); err != nil {
		return JobInfo{}, err
	}
	return info, nil
}

// JobResults downloads one result CSV of a completed job
func (c *Client) JobResults(ctx context.Context, jobID string, set ResultSet) ([]byte, error) {
	_, body, err := c.do(ctx, request{
		method: http.MethodGet,
		url:    c.jobPath(jobID, "/"+string(set)+"/"),
	})
	return body, err
}
