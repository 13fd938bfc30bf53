package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/logic/capture"
	"github.com/cjeanneret/SlideGo/internal/logic/motion"
	"github.com/cjeanneret/SlideGo/internal/logic/slider"
)

// maxBodyBytes caps JSON command bodies.
const maxBodyBytes = 1 << 20

// errBadRequest marks input rejected at the HTTP boundary.
var errBadRequest = errors.New("bad request")

// Slider is the engine surface the handlers drive.
type Slider interface {
	Status() slider.Status
	Subscribe(fn slider.Observer) func()

	SetVideoDistance(inches int) error
	SetVideoDuration(seconds int) error
	SetTimelapse(p capture.Params) error
	SetMode(m slider.Mode) error
	CycleMode() (slider.Mode, error)
	SetDirection(clockwise bool) error
	ToggleDirection() (bool, error)
	SetPolicy(p motion.Policy) error
	CyclePolicy() (motion.Policy, error)

	Start() error
	Stop()
	Home() error
	Calibrate() error
	Park()
}

// FormConfig holds the input limits and start-up values shown by the page.
type FormConfig struct {
	Limits    capture.Limits     `json:"limits"`
	MinImages int                `json:"min_images"`
	Video     slider.VideoParams `json:"video"`
	Timelapse capture.Params     `json:"timelapse"`
}

// VideoRequest is the body of POST /video. Either field may be omitted.
type VideoRequest struct {
	DistanceIn  *int `json:"distance_in"`
	DurationSec *int `json:"duration_sec"`
}

// ModeRequest is the body of POST /mode. An empty body cycles the mode.
type ModeRequest struct {
	Mode *slider.Mode `json:"mode"`
}

// DirectionRequest is the body of POST /direction. An empty body toggles.
type DirectionRequest struct {
	Clockwise *bool `json:"clockwise"`
}

// PolicyRequest is the body of POST /endstop. An empty body cycles the
// policy.
type PolicyRequest struct {
	Policy *motion.Policy `json:"policy"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster  *StatusBroadcaster
	Slider       Slider
	Hub          *Hub
	FormDefaults FormConfig
	staticFS     fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, s Slider, hub *Hub, formDefaults FormConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:  broadcaster,
		Slider:       s,
		Hub:          hub,
		FormDefaults: formDefaults,
		staticFS:     staticFS,
	}
}

// ValidateVideo checks a video request against the configured limits.
func ValidateVideo(v VideoRequest, l capture.Limits) error {
	if v.DistanceIn == nil && v.DurationSec == nil {
		return fmt.Errorf("%w: distance_in or duration_sec is required", errBadRequest)
	}
	if v.DistanceIn != nil && !inRange(*v.DistanceIn, 1, l.MaxDistanceIn) {
		return fmt.Errorf("%w: distance_in must be between 1 and %d", errBadRequest, l.MaxDistanceIn)
	}
	if v.DurationSec != nil && !inRange(*v.DurationSec, 1, l.MaxDurationSec) {
		return fmt.Errorf("%w: duration_sec must be between 1 and %d", errBadRequest, l.MaxDurationSec)
	}
	return nil
}

// ValidateTimelapse checks timelapse totals against the configured limits.
func ValidateTimelapse(p capture.Params, l capture.Limits) error {
	if !inRange(p.TotalDistanceIn, 1, l.MaxDistanceIn) {
		return fmt.Errorf("%w: total_distance_in must be between 1 and %d", errBadRequest, l.MaxDistanceIn)
	}
	if !inRange(p.TotalDurationSec, 1, l.MaxDurationSec) {
		return fmt.Errorf("%w: total_duration_sec must be between 1 and %d", errBadRequest, l.MaxDurationSec)
	}
	if !inRange(p.TotalImages, 2, l.MaxImages) {
		return fmt.Errorf("%w: total_images must be between 2 and %d", errBadRequest, l.MaxImages)
	}
	return nil
}

// inRange treats a zero max as unbounded.
func inRange(v, lo, hi int) bool {
	return v >= lo && (hi <= 0 || v <= hi)
}

// decodeBody reads a JSON body of at most maxBodyBytes into v. It reports
// false without error when the body is empty.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) (bool, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
	}
	return true, nil
}

// statusCode maps engine refusals to HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, capture.ErrInvalidParams),
		errors.Is(err, slider.ErrInvalidVideo):
		return http.StatusBadRequest
	case errors.Is(err, motion.ErrTraveling),
		errors.Is(err, motion.ErrHoming),
		errors.Is(err, capture.ErrRunning),
		errors.Is(err, slider.ErrDisabled):
		return http.StatusConflict
	case errors.Is(err, motion.ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		debug.Error(err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// reply answers a command with the fresh status snapshot.
func (h *Handlers) reply(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Slider.Status())
}

// HandleConfig returns the form limits and defaults as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.FormDefaults)
}

// HandleStatus returns the current engine snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Slider.Status())
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

// HandleVideo handles POST /video.
func (h *Handlers) HandleVideo(w http.ResponseWriter, r *http.Request) {
	var req VideoRequest
	if _, err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := ValidateVideo(req, h.FormDefaults.Limits); err != nil {
		writeError(w, err)
		return
	}
	if req.DistanceIn != nil {
		if err := h.Slider.SetVideoDistance(*req.DistanceIn); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.DurationSec != nil {
		if err := h.Slider.SetVideoDuration(*req.DurationSec); err != nil {
			writeError(w, err)
			return
		}
	}
	h.reply(w, nil)
}

// HandleTimelapse handles POST /timelapse. Totals sent during a run are
// applied once the sequence ends.
func (h *Handlers) HandleTimelapse(w http.ResponseWriter, r *http.Request) {
	var p capture.Params
	ok, err := decodeBody(w, r, &p)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, fmt.Errorf("%w: body is required", errBadRequest))
		return
	}
	if err := ValidateTimelapse(p, h.FormDefaults.Limits); err != nil {
		writeError(w, err)
		return
	}
	h.reply(w, h.Slider.SetTimelapse(p))
}

// HandleMode handles POST /mode.
func (h *Handlers) HandleMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	ok, err := decodeBody(w, r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok || req.Mode == nil {
		_, err = h.Slider.CycleMode()
	} else {
		err = h.Slider.SetMode(*req.Mode)
	}
	h.reply(w, err)
}

// HandleDirection handles POST /direction.
func (h *Handlers) HandleDirection(w http.ResponseWriter, r *http.Request) {
	var req DirectionRequest
	ok, err := decodeBody(w, r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok || req.Clockwise == nil {
		_, err = h.Slider.ToggleDirection()
	} else {
		err = h.Slider.SetDirection(*req.Clockwise)
	}
	h.reply(w, err)
}

// HandleEndstop handles POST /endstop.
func (h *Handlers) HandleEndstop(w http.ResponseWriter, r *http.Request) {
	var req PolicyRequest
	ok, err := decodeBody(w, r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok || req.Policy == nil {
		_, err = h.Slider.CyclePolicy()
	} else {
		err = h.Slider.SetPolicy(*req.Policy)
	}
	h.reply(w, err)
}

// HandleStart handles POST /start.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	err := h.Slider.Start()
	if err == nil {
		h.Broadcaster.Broadcast("info", "Started")
	}
	h.reply(w, err)
}

// HandleStop handles POST /stop.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.Slider.Stop()
	h.Broadcaster.Broadcast("info", "Stop requested")
	h.reply(w, nil)
}

// HandleHome handles POST /home.
func (h *Handlers) HandleHome(w http.ResponseWriter, r *http.Request) {
	h.reply(w, h.Slider.Home())
}

// HandleCalibrate handles POST /calibrate.
func (h *Handlers) HandleCalibrate(w http.ResponseWriter, r *http.Request) {
	h.reply(w, h.Slider.Calibrate())
}

// HandlePark handles POST /park.
func (h *Handlers) HandlePark(w http.ResponseWriter, r *http.Request) {
	h.Slider.Park()
	h.Broadcaster.Broadcast("info", "Parked")
	h.reply(w, nil)
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

// HandleWS upgrades GET /ws and streams status snapshots to the client.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		http.Error(w, "websocket not configured", http.StatusServiceUnavailable)
		return
	}
	h.Hub.ServeWS(w, r)
}
