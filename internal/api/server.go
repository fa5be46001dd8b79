package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/tspv.relay/internal/db"
	"github.com/banshee-data/tspv.relay/internal/processor"
	"github.com/banshee-data/tspv.relay/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxSampleLimit bounds /api/samples?limit=N.
const maxSampleLimit = 1000

// Controller is the serialized view of a running processor.
type Controller interface {
	Snapshot(ctx context.Context) (processor.Snapshot, error)
	Reset(ctx context.Context) (processor.Snapshot, error)
}

// SampleQuerier reads stored samples.
type SampleQuerier interface {
	RecentSamples(limit int) ([]db.StoredSample, error)
	SummaryByStatus() ([]db.StatusSummary, error)
}

// Status is the body of GET /api/status.
type Status struct {
	processor.Snapshot
	Version       string `json:"version"`
	Uptime        string `json:"uptime"`
	SinkFailures  uint64 `json:"sink_failures"`
	SamplesStored bool   `json:"samples_stored"`
	// Input counters of the transport, before the processor sees a frame.
	InputReceived uint64 `json:"input_received"`
	InputDropped  uint64 `json:"input_dropped"`
}

type Server struct {
	ctrl     Controller
	samples  SampleQuerier
	failures func() uint64
	input    func() (received, dropped uint64)
	started  time.Time
}

// NewServer creates a Server. samples may be nil when no store is configured.
func NewServer(ctrl Controller, samples SampleQuerier) *Server {
	return &Server{ctrl: ctrl, samples: samples, started: time.Now()}
}

// WithSinkFailures reports the store's write failure count in /api/status.
func (s *Server) WithSinkFailures(f func() uint64) *Server {
	s.failures = f
	return s
}

// WithInputCounts reports the transport's accepted and dropped frame counts
// in /api/status and on the processor debug page.
func (s *Server) WithInputCounts(f func() (received, dropped uint64)) *Server {
	s.input = f
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/reset", s.resetProcessor)
	mux.HandleFunc("/api/samples", s.listSamples)
	mux.HandleFunc("/api/summary", s.showSummary)
	s.AttachAdminRoutes(mux)
	return mux
}

// AttachAdminRoutes adds a plain-text processor page under /debug/.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("processor", "Processor state and recovery counters", func(w http.ResponseWriter, r *http.Request) {
		snap, err := s.ctrl.Snapshot(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		st := snap.Stats
		fmt.Fprintf(w, "last_processed_id %d\n", snap.LastProcessedID)
		fmt.Fprintf(w, "in_recovery       %v\n", snap.InRecovery)
		fmt.Fprintf(w, "history_window    %d\n", snap.HistoryWindow)
		fmt.Fprintf(w, "received          %d\n", st.Received)
		fmt.Fprintf(w, "rejected          %d\n", st.Rejected)
		fmt.Fprintf(w, "dispatched        %d\n", st.Dispatched)
		fmt.Fprintf(w, "gaps              %d\n", st.Gaps)
		fmt.Fprintf(w, "requested         %d\n", st.Requested)
		fmt.Fprintf(w, "recovered         %d\n", st.Recovered)
		fmt.Fprintf(w, "unavailable       %d\n", st.Unavailable)
		fmt.Fprintf(w, "lost              %d\n", st.Lost)
		fmt.Fprintf(w, "resets            %d\n", st.Resets)
		if s.input != nil {
			received, dropped := s.input()
			fmt.Fprintf(w, "input_received    %d\n", received)
			fmt.Fprintf(w, "input_dropped     %d\n", dropped)
		}
	})
}

func (s *Server) status(snap processor.Snapshot) Status {
	st := Status{
		Snapshot:      snap,
		Version:       version.Version,
		Uptime:        time.Since(s.started).Truncate(time.Second).String(),
		SamplesStored: s.samples != nil,
	}
	if s.failures != nil {
		st.SinkFailures = s.failures()
	}
	if s.input != nil {
		st.InputReceived, st.InputDropped = s.input()
	}
	return st
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	snap, err := s.ctrl.Snapshot(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.status(snap))
}

func (s *Server) resetProcessor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	snap, err := s.ctrl.Reset(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.status(snap))
}

func (s *Server) listSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.samples == nil {
		writeJSONError(w, http.StatusNotFound, "no sample store configured")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = min(n, maxSampleLimit)
	}

	samples, err := s.samples.RecentSamples(limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if samples == nil {
		samples = []db.StoredSample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.samples == nil {
		writeJSONError(w, http.StatusNotFound, "no sample store configured")
		return
	}
	summary, err := s.samples.SummaryByStatus()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if summary == nil {
		summary = []db.StatusSummary{}
	}
	writeJSON(w, http.StatusOK, summary)
}
