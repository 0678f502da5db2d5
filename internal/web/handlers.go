package web

import (
	"encoding/json"
	"io/fs"
	"net/http"
	"time"

	"github.com/einoj/muskrat/internal/logic/sensor"
)

// ConfigView is the read-only wiring summary served on GET /config.
type ConfigView struct {
	Mode       string  `json:"mode"`
	Emitters   []int   `json:"emitters"`
	ButtonPin  int     `json:"button_pin"`
	Detectors  [7]int  `json:"detectors"`
	LeftChip   string  `json:"left_chip"`
	RightChip  string  `json:"right_chip"`
	FreqHz     int     `json:"frequency_hz"`
	LeftSpeed  float64 `json:"left_speed_percent"`
	RightSpeed float64 `json:"right_speed_percent"`
}

// StateFunc reports the robot state ("idle" or "running").
type StateFunc func() string

// Handlers holds dependencies for HTTP handlers. None of them change robot state.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Slot        *sensor.Slot
	State       StateFunc
	Config      ConfigView
	Heartbeat   time.Duration
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, slot *sensor.Slot, state StateFunc, cfg ConfigView, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Slot:        slot,
		State:       state,
		Config:      cfg,
		Heartbeat:   30 * time.Second,
		staticFS:    staticFS,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// HandleConfig returns the wiring summary as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Config)
}

// HandleReading returns the latest frame, or 204 before the first one.
func (h *Handlers) HandleReading(w http.ResponseWriter, r *http.Request) {
	if h.Slot == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	f, ok := h.Slot.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, f)
}

// HandleState returns {"state": "..."}.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	state := "unknown"
	if h.State != nil {
		state = h.State()
	}
	writeJSON(w, map[string]string{"state": state})
}

// ServeIndex serves the status page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
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

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(h.Heartbeat)
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
