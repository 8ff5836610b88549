// Package api serves the dashboard: the index page, the report files the
// exporter writes and a small JSON API over the latest record and the
// collector's task status.
package api

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/hivemind/internal/collector"
	"github.com/banshee-data/hivemind/internal/db"
	"github.com/banshee-data/hivemind/internal/httputil"
	"github.com/banshee-data/hivemind/internal/monitoring"
	"github.com/banshee-data/hivemind/internal/report"
	"github.com/banshee-data/hivemind/internal/scheduler"
	"github.com/banshee-data/hivemind/internal/security"
	"github.com/banshee-data/hivemind/internal/timeutil"
	"github.com/banshee-data/hivemind/internal/version"
)

//go:embed web/index.html
var indexHTML []byte

// ANSI escape codes for the request log
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// report file types served under /static/
var staticTypes = map[string]string{
	".tsv":  "text/tab-separated-values; charset=utf-8",
	".html": "text/html; charset=utf-8",
	".png":  "image/png",
}

// RecordReader is the read side of the store used by the API.
type RecordReader interface {
	Latest(ctx context.Context) (db.Record, error)
	Count(ctx context.Context) (int, error)
	QuerySince(ctx context.Context, cutoff float64) ([]db.Record, error)
}

// maxRecordsWindow caps the ?window= accepted by /api/records.
const maxRecordsWindow = 31 * 24 * time.Hour

// Server holds what the handlers read. Scheduler, Updates and Exports may be
// nil when the corresponding task is not running.
type Server struct {
	Store     RecordReader
	Scheduler *scheduler.Scheduler
	Updates   interface {
		Last() (collector.CycleResult, bool)
	}
	Exports interface {
		Last() (report.ExportResult, bool)
	}
	ReportDir string
	Started   time.Time
	// Window is the default range of /api/records. Zero means 24h.
	Window time.Duration
}

// Status is the body of /api/status.
type Status struct {
	Version    string                 `json:"version"`
	GitSHA     string                 `json:"git_sha"`
	Uptime     string                 `json:"uptime"`
	Records    int                    `json:"records"`
	StoreError string                 `json:"store_error,omitempty"`
	Tasks      []scheduler.TaskStats  `json:"tasks,omitempty"`
	LastCycle  *collector.CycleResult `json:"last_cycle,omitempty"`
	LastExport *report.ExportResult   `json:"last_export,omitempty"`
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

// LoggingMiddleware logs method, path, status and duration.
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

// ServeMux returns the dashboard routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.index)
	mux.HandleFunc("/static/", s.static)
	mux.HandleFunc("/api/latest", s.latest)
	mux.HandleFunc("/api/records", s.records)
	mux.HandleFunc("/api/status", s.status)
	return mux
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		httputil.NotFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// static serves the exporter's output. Only report file types are served and
// only from the report directory itself.
func (s *Server) static(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w)
		return
	}
	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/static/")
	if security.ValidateFileName(name) != nil {
		httputil.NotFound(w, "not found")
		return
	}
	ctype, ok := staticTypes[filepath.Ext(name)]
	if !ok {
		httputil.NotFound(w, "not found")
		return
	}
	dir := s.ReportDir
	if dir == "" {
		dir = "."
	}
	full := filepath.Join(dir, name)
	if err := security.ValidatePathWithinDirectory(full, dir); err != nil {
		monitoring.Logf("warning: rejected static request %q: %v", r.URL.Path, err)
		httputil.NotFound(w, "not found")
		return
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, full)
}

func (s *Server) latest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	rec, err := s.Store.Latest(r.Context())
	if errors.Is(err, sql.ErrNoRows) {
		httputil.NotFound(w, "no records yet")
		return
	}
	if err != nil {
		storeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, rec)
}

func storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrUnavailable) {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}

// records returns the records of the trailing window, oldest first.
func (s *Server) records(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	window := s.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 || d > maxRecordsWindow {
			httputil.BadRequest(w, "window must be a positive duration up to "+maxRecordsWindow.String())
			return
		}
		window = d
	}
	cutoff := timeutil.UnixSeconds(time.Now().Add(-window))
	recs, err := s.Store.QuerySince(r.Context(), cutoff)
	if err != nil {
		storeError(w, err)
		return
	}
	report.SortRecords(recs)
	if recs == nil {
		recs = []db.Record{}
	}
	httputil.WriteJSONOK(w, recs)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	st := Status{
		Version: version.Version,
		GitSHA:  version.Revision(),
	}
	if !s.Started.IsZero() {
		st.Uptime = time.Since(s.Started).Truncate(time.Second).String()
	}
	n, err := s.Store.Count(r.Context())
	switch {
	case errors.Is(err, db.ErrUnavailable):
		st.StoreError = err.Error()
	case err != nil:
		httputil.InternalServerError(w, err.Error())
		return
	}
	st.Records = n
	if s.Scheduler != nil {
		st.Tasks = s.Scheduler.Stats()
	}
	if s.Updates != nil {
		if c, ok := s.Updates.Last(); ok {
			st.LastCycle = &c
		}
	}
	if s.Exports != nil {
		if e, ok := s.Exports.Last(); ok {
			st.LastExport = &e
		}
	}
	httputil.WriteJSONOK(w, st)
}
