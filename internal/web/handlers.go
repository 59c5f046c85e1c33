package web

import (
	"encoding/json"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/cjeanneret/GoBell/internal/logic/doorbell"
	"github.com/cjeanneret/GoBell/internal/upload"
)

// Log listing bounds for GET /logs.
const (
	defaultLogCount = 10
	maxLogCount     = 100
)

// Ringer is the doorbell pipeline as seen by the web UI.
type Ringer interface {
	Trigger(source string) bool
	Stats() doorbell.Stats
}

// Deps are the collaborators served over HTTP. Any of them may be nil.
type Deps struct {
	Broadcaster   *StatusBroadcaster
	Doorbell      Ringer
	Preview       *Preview
	Logs          upload.Lister // nil when the sink cannot read back
	LogPath       string
	Uploads       func() upload.WorkerStats
	ButtonEnabled func() bool
	// PressButton injects a press on the button line and returns how many
	// watchers saw it. Set only with the mock GPIO driver.
	PressButton func() int
}

// Status is the GET /status response.
type Status struct {
	Doorbell      doorbell.Stats     `json:"doorbell"`
	Upload        upload.WorkerStats `json:"upload"`
	ButtonEnabled bool               `json:"button_enabled"`
	SimButton     bool               `json:"simulated_button"`
	Previewing    bool               `json:"previewing"`
	Clients       int                `json:"clients"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Deps
	staticFS fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If d.Doorbell is nil, POST /ring will return 503 Service Unavailable.
func NewHandlers(d Deps, staticFS fs.FS) *Handlers {
	if d.Broadcaster == nil {
		d.Broadcaster = NewStatusBroadcaster()
	}
	if d.LogPath == "" {
		d.LogPath = upload.DefaultPath
	}
	return &Handlers{Deps: d, staticFS: staticFS}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleRing handles POST /ring, the manual doorbell button.
func (h *Handlers) HandleRing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Doorbell == nil {
		http.Error(w, "doorbell not configured", http.StatusServiceUnavailable)
		return
	}
	if !h.Doorbell.Trigger(doorbell.SourceWeb) {
		http.Error(w, "doorbell busy", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "ringing"})
}

// HandleButton handles POST /button, a simulated press on the hardware
// button. The press goes through the GPIO watcher like a real edge.
func (h *Handlers) HandleButton(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.PressButton == nil {
		http.Error(w, "button simulation needs the mock gpio driver", http.StatusNotFound)
		return
	}
	if h.PressButton() == 0 {
		http.Error(w, "button not watched", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "pressed"})
}

// HandleStatus returns pipeline and upload counters as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var st Status
	if h.Doorbell != nil {
		st.Doorbell = h.Doorbell.Stats()
	}
	if h.Uploads != nil {
		st.Upload = h.Uploads()
	}
	if h.ButtonEnabled != nil {
		st.ButtonEnabled = h.ButtonEnabled()
	}
	st.SimButton = h.PressButton != nil
	if h.Preview != nil {
		st.Previewing = h.Preview.Showing()
	}
	st.Clients = h.Broadcaster.Clients()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}

// HandlePreview serves the preview surface.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	if h.Preview == nil {
		http.Error(w, "preview not configured", http.StatusServiceUnavailable)
		return
	}
	h.Preview.ServeHTTP(w, r)
}

// HandleLogs returns the most recent log entries, newest first.
// Query: n (1-100, default 10).
func (h *Handlers) HandleLogs(w http.ResponseWriter, r *http.Request) {
	if h.Logs == nil {
		http.Error(w, "log sink does not support listing", http.StatusNotImplemented)
		return
	}
	n := defaultLogCount
	if s := r.URL.Query().Get("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > maxLogCount {
			http.Error(w, "n must be between 1 and 100", http.StatusBadRequest)
			return
		}
		n = v
	}

	recs, err := h.Logs.List(r.Context(), h.LogPath, n)
	if err != nil {
		http.Error(w, "list logs: "+err.Error(), http.StatusBadGateway)
		return
	}
	if recs == nil {
		recs = []upload.Record{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
