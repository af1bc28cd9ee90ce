package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ryabkov82/sf-sync-server/internal/logging"
)

// Error codes returned in ErrorResponse.Code
const (
	codeUnauthorized  = "UNAUTHORIZED"
	codeBadRequest    = "BAD_REQUEST"
	codeTooLarge      = "BODY_TOO_LARGE"
	codeConfig        = "CONFIG_ERROR"
	codeQueueFull     = "QUEUE_FULL"
	codeNotFound      = "NOT_FOUND"
	codeJobFinished   = "JOB_FINISHED"
	codeUpstream      = "UPSTREAM_UNAVAILABLE"
	codeInternalError = "INTERNAL_ERROR"
)

var errUnauthorized = errors.New("missing or invalid X-API-Key")

// ErrorResponse is the JSON body of every error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError logs err with the request id and writes it as JSON
func respondError(w http.ResponseWriter, r *http.Request, err error, status int, code string) {
	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request error", "path", r.URL.Path, "status", status, "code", code, "error", err)
	} else {
		log.Warn("request rejected", "path", r.URL.Path, "status", status, "code", code, "error", err)
	}

	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
