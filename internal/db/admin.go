package db

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/hivemind/internal/httputil"
	"github.com/banshee-data/hivemind/internal/monitoring"
)

// Stats is the summary served on the debug records page.
type Stats struct {
	Path          string  `json:"path"`
	SchemaVersion uint    `json:"schema_version"`
	Records       int     `json:"records"`
	LatestTime    string  `json:"latest_time,omitempty"`
	LatestUnix    float64 `json:"latest_unix_time,omitempty"`
}

// Stats collects the record count and newest timestamp.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Path: db.path}
	var err error
	if st.SchemaVersion, err = db.SchemaVersion(); err != nil {
		return st, err
	}
	if st.Records, err = db.Count(ctx); err != nil {
		return st, err
	}
	if st.Records > 0 {
		latest, err := db.Latest(ctx)
		if err != nil {
			return st, err
		}
		st.LatestTime, st.LatestUnix = latest.Time, latest.UnixTime
	}
	return st, nil
}

// AttachAdminRoutes mounts tailsql, a backup download and a record summary
// under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	return attachAdminRoutes(mux,
		func() (*DB, error) { return db, nil },
		func(fn func(*DB)) { fn(db) })
}

// AttachAdminRoutes mounts the same routes as DB.AttachAdminRoutes. Until
// the database opens, the records and backup pages answer 503 and tailsql
// has no source.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	return attachAdminRoutes(mux, s.get, s.whenOpen)
}

func attachAdminRoutes(mux *http.ServeMux, get func() (*DB, error), whenOpen func(func(*DB))) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	whenOpen(func(db *DB) {
		tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
			Label: "Hive records",
		})
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("records", "Record store summary", func(w http.ResponseWriter, r *http.Request) {
		db, err := get()
		if err != nil {
			httputil.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		st, err := db.Stats(r.Context())
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, st)
	})

	debug.HandleFunc("backup", "Create and download a backup of the database now", func(w http.ResponseWriter, r *http.Request) {
		db, err := get()
		if err != nil {
			httputil.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		db.serveBackup(w, r)
	})
	return nil
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "hivemind-backup-")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to create backup dir: %v", err))
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			monitoring.Logf("failed to remove backup dir %s: %v", dir, err)
		}
	}()

	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := db.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to create backup: %v", err))
		return
	}

	f, err := os.Open(backupPath)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to open backup: %v", err))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		monitoring.Logf("error: backup download interrupted: %v", err)
	}
}
