package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"dapaggregator/internal/dap"
	"dapaggregator/pkg/logging"
)

// problemDocument is the minimal RFC 7807 shape spec.md §7 calls for:
// every Abort maps to an HTTP status and a problem-document type URI.
type problemDocument struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	TaskID string `json:"taskid,omitempty"`
	Detail string `json:"detail,omitempty"`
}

var abortStatus = map[dap.AbortType]int{
	dap.AbortUnauthorizedRequest: http.StatusForbidden,
	dap.AbortInvalidTask:         http.StatusBadRequest,
	dap.AbortInvalidMessage:      http.StatusBadRequest,
	dap.AbortBatchMismatch:       http.StatusBadRequest,
	dap.AbortBatchInvalid:        http.StatusBadRequest,
	dap.AbortBatchOverlap:        http.StatusBadRequest,
	dap.AbortReportTooLate:       http.StatusBadRequest,
	dap.AbortStepMismatch:        http.StatusBadRequest,
	dap.AbortRoundMismatch:       http.StatusBadRequest,
}

const problemTypeBase = "urn:ietf:params:ppm:dap:error:"

// writeAbort renders a *dap.Abort as the uniform problem-document response
// spec.md §7 describes.
func writeAbort(w http.ResponseWriter, a *dap.Abort) {
	status, ok := abortStatus[a.Type]
	if !ok {
		status = http.StatusBadRequest
	}
	doc := problemDocument{
		Type:   problemTypeBase + string(a.Type),
		Title:  string(a.Type),
		Detail: a.Detail,
	}
	if a.TaskID != nil {
		doc.TaskID = a.TaskID.String()
	}
	writeJSONStatus(w, status, doc)
}

// writeFatal logs the full error and returns an opaque 500 — spec.md §7:
// "Fatal ... surfaced as 500-class responses with opaque detail".
// Authorization denials are not Fatal; authorize strips their detail
// before writing them.
func writeFatal(w http.ResponseWriter, subsystem string, err error) {
	logging.Error(subsystem, err, "internal aggregator error")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// writeErr dispatches err to the right response shape depending on which
// tier of the error taxonomy (spec.md §7) it belongs to.
func writeErr(w http.ResponseWriter, subsystem string, err error) {
	var abort *dap.Abort
	if errors.As(err, &abort) {
		writeAbort(w, abort)
		return
	}
	writeFatal(w, subsystem, err)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
