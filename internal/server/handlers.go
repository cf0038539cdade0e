package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"dapaggregator/internal/aggregation"
	"dapaggregator/internal/auth"
	"dapaggregator/internal/codec"
	"dapaggregator/internal/collect"
	"dapaggregator/internal/dap"
	"dapaggregator/internal/store"
	"dapaggregator/pkg/logging"
)

// pathIDs is the {version}/tasks/{task_id}/... prefix every endpoint but
// hpke_config shares.
type pathIDs struct {
	version dap.Version
	taskID  dap.TaskId
}

func parseVersion(s string) (dap.Version, bool) {
	v := dap.ParseVersion(s)
	return v, v != dap.VersionUnknown
}

// senderAuth extracts the bearer token from an Authorization header, the
// only credential mechanism this HTTP layer implements (mTLS client
// certificates would be extracted from the TLS connection state instead,
// see auth.ClientCertAuth).
func senderAuth(r *http.Request) auth.SenderAuth {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return nil
	}
	return auth.BearerAuth{Token: auth.NewBearerToken(strings.TrimPrefix(h, prefix))}
}

func authRequest(mediaType codec.MediaType, taskID *dap.TaskId, a auth.SenderAuth) auth.Request {
	return auth.Request{TaskID: taskID, MediaType: mediaType, Auth: a}
}

// uploadReport handles a Client's PUT of a report (spec.md §4.1, §6).
func (s *Server) uploadReport(w http.ResponseWriter, r *http.Request, ids pathIDs) {
	var report dap.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeAbort(w, dap.NewAbortForTask(dap.AbortInvalidMessage, ids.taskID, "malformed report body"))
		return
	}

	cfg, err := s.deps.Registry.Resolve(r.Context(), ids.version, ids.taskID, &report.Metadata)
	if err != nil {
		writeErr(w, "Server", err)
		return
	}

	if err := s.deps.Reports.Put(r.Context(), cfg.Version, ids.taskID, report); err != nil {
		var dup *store.ErrReportExists
		if errors.As(err, &dup) {
			writeAbort(w, dap.NewAbortForTask(dap.AbortInvalidMessage, ids.taskID, "report already uploaded"))
			return
		}
		writeErr(w, "Server", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// aggregationJobInit handles a Leader's PUT of an AggJobInitReq (spec.md
// §4.4). 404s if this process isn't configured as a Helper.
func (s *Server) aggregationJobInit(w http.ResponseWriter, r *http.Request, ids pathIDs) {
	if s.deps.Helper == nil {
		http.NotFound(w, r)
		return
	}
	if !s.checkMediaType(w, r, ids, codec.MediaTypeAggregationJobInitReq) {
		return
	}

	var req aggregation.AggJobInitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAbort(w, dap.NewAbortForTask(dap.AbortInvalidMessage, ids.taskID, "malformed aggregation job init request"))
		return
	}
	req.TaskID = ids.taskID

	var metadata *dap.ReportMetadata
	if len(req.ReportShares) > 0 {
		metadata = &req.ReportShares[0].Metadata
	}
	cfg, err := s.deps.Registry.Resolve(r.Context(), ids.version, ids.taskID, metadata)
	if err != nil {
		writeErr(w, "Server", err)
		return
	}

	if !s.authorize(w, r, ids, codec.MediaTypeAggregationJobInitReq) {
		return
	}

	resp, err := s.deps.Helper.HandleInit(r.Context(), cfg, req)
	if err != nil {
		writeErr(w, "Server", err)
		return
	}
	s.writeMessage(w, ids.version, codec.MediaTypeAggregationJobResp, resp)
}

// aggregationJobContinue handles a Leader's POST of an AggJobContinueReq
// (spec.md §4.4).
func (s *Server) aggregationJobContinue(w http.ResponseWriter, r *http.Request, ids pathIDs) {
	if s.deps.Helper == nil {
		http.NotFound(w, r)
		return
	}
	if !s.checkMediaType(w, r, ids, codec.MediaTypeAggregationJobContinueReq) {
		return
	}
	if !s.authorize(w, r, ids, codec.MediaTypeAggregationJobContinueReq) {
		return
	}

	var req aggregation.AggJobContinueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAbort(w, dap.NewAbortForTask(dap.AbortInvalidMessage, ids.taskID, "malformed aggregation job continue request"))
		return
	}
	req.TaskID = ids.taskID

	cfg, err := s.deps.Registry.Resolve(r.Context(), ids.version, ids.taskID, nil)
	if err != nil {
		writeErr(w, "Server", err)
		return
	}

	resp, err := s.deps.Helper.HandleContinue(r.Context(), cfg, req)
	if err != nil {
		writeErr(w, "Server", err)
		return
	}
	s.writeMessage(w, ids.version, codec.AggregationJobContinueRespType(ids.version), resp)
}

// aggregateShareReq handles a Leader's POST requesting this Helper's share
// of a batch (spec.md §4.5, §4.7).
func (s *Server) aggregateShareReq(w http.ResponseWriter, r *http.Request, ids pathIDs) {
	if s.deps.Helper == nil {
		http.NotFound(w, r)
		return
	}
	if !s.checkMediaType(w, r, ids, codec.MediaTypeAggregateShareReq) {
		return
	}
	if !s.authorize(w, r, ids, codec.MediaTypeAggregateShareReq) {
		return
	}

	var req aggregateShareReqBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAbort(w, dap.NewAbortForTask(dap.AbortInvalidMessage, ids.taskID, "malformed aggregate share request"))
		return
	}

	cfg, err := s.deps.Registry.Resolve(r.Context(), ids.version, ids.taskID, nil)
	if err != nil {
		writeErr(w, "Server", err)
		return
	}

	span := dap.Span(req.Selector, cfg.TimePrecision)
	if len(span) == 0 {
		writeAbort(w, dap.NewAbortForTask(dap.AbortBatchInvalid, ids.taskID, "batch selector spans no buckets"))
		return
	}

	var total dap.AggregateShare
	for _, bucket := range span {
		key := bucket.Key(cfg.Query.Type)
		share, err := s.deps.AggStore.Get(r.Context(), cfg.Version, ids.taskID, key)
		if err != nil {
			writeErr(w, "Server", dap.WrapFatal("reading bucket share", err))
			return
		}
		if !share.Empty() {
			total = dap.Merge(total, share, s.deps.Combine)
		}
	}
	for _, bucket := range span {
		if err := s.deps.AggStore.MarkCollected(r.Context(), cfg.Version, ids.taskID, bucket.Key(cfg.Query.Type)); err != nil {
			writeErr(w, "Server", dap.WrapFatal("marking bucket collected", err))
			return
		}
	}

	s.writeMessage(w, ids.version, codec.MediaTypeAggregateShare, total)
}

// collectPut handles a Collector's PUT starting a collection job (spec.md
// §4.7).
func (s *Server) collectPut(w http.ResponseWriter, r *http.Request, ids pathIDs) {
	if s.deps.Collect == nil {
		http.NotFound(w, r)
		return
	}
	if !s.checkMediaType(w, r, ids, codec.MediaTypeCollectReq) {
		return
	}
	if !s.authorize(w, r, ids, codec.MediaTypeCollectReq) {
		return
	}

	var req collect.CollectReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAbort(w, dap.NewAbortForTask(dap.AbortInvalidMessage, ids.taskID, "malformed collect request"))
		return
	}
	req.TaskID = ids.taskID

	cfg, err := s.deps.Registry.Resolve(r.Context(), ids.version, ids.taskID, nil)
	if err != nil {
		writeErr(w, "Server", err)
		return
	}

	id, err := s.deps.Collect.PutCollection(r.Context(), cfg, req)
	if err != nil {
		writeErr(w, "Server", err)
		return
	}
	w.Header().Set("Location", r.URL.Path+"/"+id.Hex())
	writeJSONStatus(w, http.StatusCreated, struct {
		CollectionJobID dap.CollectionJobId `json:"collection_job_id"`
	}{id})
}

// collectPoll handles a Collector's GET polling a collection job's status
// (spec.md §4.7).
func (s *Server) collectPoll(w http.ResponseWriter, r *http.Request, ids pathIDs, jobID dap.CollectionJobId) {
	if s.deps.Collect == nil {
		http.NotFound(w, r)
		return
	}
	if !s.authorize(w, r, ids, codec.MediaTypeCollectReq) {
		return
	}

	result, err := s.deps.Collect.PollCollection(r.Context(), ids.taskID, jobID)
	if err != nil {
		writeErr(w, "Server", err)
		return
	}
	switch result.Status {
	case collect.PollUnknown:
		http.NotFound(w, r)
	case collect.PollPending:
		w.WriteHeader(http.StatusAccepted)
	default:
		s.writeMessage(w, ids.version, codec.MediaTypeCollection, result.Result)
	}
}

// hpkeConfigList handles an operator's GET of advertised HPKE configs
// (spec.md §6).
func (s *Server) hpkeConfigList(w http.ResponseWriter, r *http.Request, version dap.Version) {
	w.Header().Set("Content-Type", mustContentType(version, codec.MediaTypeHpkeConfigList))
	_, _ = w.Write(s.deps.HPKE.ConfigList())
}

func mustContentType(version dap.Version, m codec.MediaType) string {
	s, ok := codec.StringForVersion(version, m)
	if !ok {
		return "application/octet-stream"
	}
	return s
}

// checkMediaType validates the request's Content-Type header matches want
// under this task's negotiated version, writing an InvalidMessage abort
// and returning false otherwise.
func (s *Server) checkMediaType(w http.ResponseWriter, r *http.Request, ids pathIDs, want codec.MediaType) bool {
	got, ok := codec.ParseForVersion(ids.version, r.Header.Get("Content-Type"))
	if !ok || got != want {
		writeAbort(w, dap.NewAbortForTask(dap.AbortInvalidMessage, ids.taskID, "unexpected or missing content-type"))
		return false
	}
	return true
}

// authorize runs the Authenticator against the request's bearer token and
// returns whether the request may proceed. A denial is logged with its
// reason; the caller receives an abort of the same type with no detail or
// task id, so every denial looks alike from outside.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, ids pathIDs, mediaType codec.MediaType) bool {
	taskID := ids.taskID
	req := authRequest(mediaType, &taskID, senderAuth(r))
	abort, err := s.deps.Authn.Check(r.Context(), req)
	if err != nil {
		writeErr(w, "Server", err)
		return false
	}
	if abort != nil {
		logging.Warn("Server", "authorization denied (%s): %s", abort.Type, abort.Detail)
		writeAbort(w, dap.NewAbort(abort.Type, ""))
		return false
	}
	return true
}

// writeMessage renders v as the JSON body for a message of kind m under
// version, using the right content-type for the draft in play.
func (s *Server) writeMessage(w http.ResponseWriter, version dap.Version, m codec.MediaType, v any) {
	w.Header().Set("Content-Type", mustContentType(version, m))
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Server", err, "encoding response body")
	}
}

// aggregateShareReqBody is the wire shape of a Leader's POST to
// aggregate_share (spec.md §4.5): a batch selector and the VDAF
// aggregation parameter it was computed under.
type aggregateShareReqBody struct {
	Selector dap.BatchSelector
	AggParam []byte
}
