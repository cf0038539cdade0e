package server

import (
	"net/http"
	"strings"

	"dapaggregator/internal/dap"
)

// Server is the HTTP front door onto the aggregator core (spec.md §6's
// external interfaces), built around Deps.
type Server struct {
	deps *Deps
	mux  *http.ServeMux
}

// New builds a Server routing every endpoint spec.md §6 names over deps.
func New(deps *Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.mux.HandleFunc("/", s.route)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// route dispatches by path shape. Routing is done by hand here, with one
// catch-all ServeMux pattern, rather than pulling in a router dependency
// for five URL shapes.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	segs := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		http.NotFound(w, r)
		return
	}

	version, ok := parseVersion(segs[0])
	if !ok {
		http.NotFound(w, r)
		return
	}

	if len(segs) == 2 && segs[1] == "hpke_config" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.hpkeConfigList(w, r, version)
		return
	}

	if len(segs) < 3 || segs[1] != "tasks" {
		http.NotFound(w, r)
		return
	}
	taskID, err := dap.TaskIdFromHex(segs[2])
	if err != nil {
		http.NotFound(w, r)
		return
	}
	ids := pathIDs{version: version, taskID: taskID}

	switch {
	case len(segs) == 4 && segs[3] == "reports" && r.Method == http.MethodPut:
		s.uploadReport(w, r, ids)

	case len(segs) == 5 && segs[3] == "aggregation_jobs" && r.Method == http.MethodPut:
		s.aggregationJobInit(w, r, ids)

	case len(segs) == 5 && segs[3] == "aggregation_jobs" && r.Method == http.MethodPost:
		s.aggregationJobContinue(w, r, ids)

	case len(segs) == 4 && segs[3] == "aggregate_share" && r.Method == http.MethodPost:
		s.aggregateShareReq(w, r, ids)

	case len(segs) == 5 && segs[3] == "collection_jobs" && r.Method == http.MethodPut:
		s.collectPut(w, r, ids)

	case len(segs) == 5 && segs[3] == "collection_jobs" && r.Method == http.MethodGet:
		jobBytes, err := dap.ReportIdFromHex(segs[4]) // CollectionJobId shares ReportId's 16-byte width
		if err != nil {
			http.NotFound(w, r)
			return
		}
		s.collectPoll(w, r, ids, dap.CollectionJobId(jobBytes))

	default:
		http.NotFound(w, r)
	}
}
