// Package api serves the monitor's HTTP interface: live measurements, the
// saved report artifact, session history, plots and charts.
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/ecg.report/internal/db"
	"github.com/banshee-data/ecg.report/internal/ecg/leads"
	"github.com/banshee-data/ecg.report/internal/ecg/pipeline"
	"github.com/banshee-data/ecg.report/internal/ecg/report"
	"github.com/banshee-data/ecg.report/internal/httputil"
	"github.com/banshee-data/ecg.report/internal/monitoring"
	"github.com/banshee-data/ecg.report/internal/security"
	"github.com/banshee-data/ecg.report/internal/serialmux"
	"github.com/banshee-data/ecg.report/internal/timeutil"
	"github.com/banshee-data/ecg.report/internal/version"
)

// ANSI escape codes for request logging.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Server holds what the handlers read from. Any of m, db and session may be
// nil; the routes that need a missing one answer 503.
type Server struct {
	m         serialmux.Mux
	db        *db.DB
	session   *pipeline.Session
	sessionID string
	portPath  string
	clock     timeutil.Clock
}

func NewServer(m serialmux.Mux, database *db.DB, session *pipeline.Session, sessionID string) *Server {
	return &Server{
		m:         m,
		db:        database,
		session:   session,
		sessionID: sessionID,
		clock:     timeutil.RealClock{},
	}
}

// SetPortPath records the device the monitor is reading, so the serial
// endpoints can mark it busy.
func (s *Server) SetPortPath(p string) { s.portPath = p }

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
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /command", s.sendCommandHandler)
	mux.HandleFunc("GET /api/version", s.showVersion)
	mux.HandleFunc("GET /api/latest", s.showLatest)
	mux.HandleFunc("GET /api/report", s.downloadReport)
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.showSession)
	mux.HandleFunc("GET /api/sessions/{id}/snapshots", s.listSnapshots)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.listRhythmEvents)
	mux.HandleFunc("GET /api/median-beat.png", s.medianBeatPNG)
	mux.HandleFunc("GET /api/charts/hr", s.hrChart)
	mux.HandleFunc("GET /api/charts/rr", s.rrChart)
	mux.HandleFunc("GET /api/serial/ports", s.handleSerialPorts)
	mux.HandleFunc("POST /api/serial/probe", s.handleSerialProbe)
	return mux
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if s.m == nil {
		httputil.ServiceUnavailable(w, "no device attached")
		return
	}
	command := r.FormValue("command")
	if command == "" {
		httputil.BadRequest(w, "command is required")
		return
	}
	if err := s.m.SendCommand(command); err != nil {
		monitoring.Logf("[api] send command %q: %v", command, err)
		httputil.InternalServerError(w, "failed to send command")
		return
	}
	io.WriteString(w, "Command sent successfully")
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

// latest returns the session's newest result, or writes 503.
func (s *Server) latest(w http.ResponseWriter) (*pipeline.Result, bool) {
	if s.session == nil {
		httputil.ServiceUnavailable(w, "no live session")
		return nil, false
	}
	res := s.session.Latest()
	if res == nil {
		httputil.ServiceUnavailable(w, "no analysis yet")
		return nil, false
	}
	return res, true
}

// LatestResponse is the body of GET /api/latest.
type LatestResponse struct {
	report.Artifact
	Cycles        uint64    `json:"cycles"`
	Pass          string    `json:"rpeak_pass"`
	Peaks         int       `json:"peaks"`
	RR            []float64 `json:"rr_ms"`
	Indeterminate []string  `json:"indeterminate_leads,omitempty"`
	Degraded      []string  `json:"degraded_leads,omitempty"`
	NotchHz       float64   `json:"notch_hz,omitempty"`
}

func (s *Server) showLatest(w http.ResponseWriter, r *http.Request) {
	res, ok := s.latest(w)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, LatestResponse{
		Artifact:      report.FromResult(res, s.sessionID, s.clock.Now()),
		Cycles:        s.session.Cycles(),
		Pass:          res.Pass.String(),
		Peaks:         len(res.Peaks),
		RR:            res.RR,
		Indeterminate: leadNames(res.Indeterminate),
		Degraded:      leadNames(res.Degraded),
		NotchHz:       res.NotchHz,
	})
}

func leadNames(ls []leads.Lead) []string {
	var out []string
	for _, l := range ls {
		out = append(out, l.String())
	}
	return out
}

// downloadReport serves the artifact for the newest result. Consistency
// problems are listed in the X-Report-Problems header; the artifact is
// still returned.
func (s *Server) downloadReport(w http.ResponseWriter, r *http.Request) {
	res, ok := s.latest(w)
	if !ok {
		return
	}
	at := s.clock.Now()
	a := report.FromResult(res, s.sessionID, at)
	if err := a.Validate(); err != nil {
		monitoring.Logf("[api] report validation: %v", err)
		w.Header().Set("X-Report-Problems", fmt.Sprint(len(unwrapAll(err))))
	}
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Query().Get("download") != "" {
		name := security.SanitizeFilename(fmt.Sprintf("ecg-report-%s-%s", s.sessionID, at.UTC().Format("20060102T150405Z")))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.json", name))
	}
	if err := a.Write(w); err != nil {
		monitoring.Logf("[api] write report: %v", err)
	}
}

func unwrapAll(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.db == nil {
		httputil.ServiceUnavailable(w, "no database")
		return false
	}
	return true
}

func limitParam(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 10000 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	return n, nil
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	limit, err := limitParam(r, 100)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sessions, err := s.db.ListSessions(r.Context(), limit)
	if err != nil {
		monitoring.Logf("[api] list sessions: %v", err)
		httputil.InternalServerError(w, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	sess, err := s.db.GetSession(r.Context(), r.PathValue("id"))
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, "session not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "failed to load session")
		return
	}
	httputil.WriteJSONOK(w, sess)
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	limit, err := limitParam(r, 100)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	snaps, err := s.db.RecentSnapshots(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		monitoring.Logf("[api] snapshots: %v", err)
		httputil.InternalServerError(w, "failed to load snapshots")
		return
	}
	if snaps == nil {
		snaps = []report.Artifact{}
	}
	httputil.WriteJSONOK(w, snaps)
}

func (s *Server) listRhythmEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	events, err := s.db.RhythmEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		monitoring.Logf("[api] rhythm events: %v", err)
		httputil.InternalServerError(w, "failed to load rhythm events")
		return
	}
	if events == nil {
		events = []db.RhythmEvent{}
	}
	httputil.WriteJSONOK(w, events)
}
