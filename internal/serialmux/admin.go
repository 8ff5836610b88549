package serialmux

import (
	"fmt"
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/hivemind/internal/httputil"
)

// AttachAdminRoutes mounts serial debugging endpoints under /debug/. These
// routes are reachable only through the tsweb debugger (localhost/Tailscale).
func (s *SerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("serial-last", "most recent line read from the microcontroller", func(w http.ResponseWriter, r *http.Request) {
		line, at := s.LastLine()
		resp := map[string]any{"device": s.path, "line": line}
		if !at.IsZero() {
			resp["read_at"] = at.Format(time.RFC3339Nano)
		}
		httputil.WriteJSONOK(w, resp)
	})

	// Server-Sent Events stream of every line the update task reads.
	debug.HandleSilentFunc("serial-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httputil.InternalServerError(w, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
