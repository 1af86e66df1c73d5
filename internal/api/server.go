// Package api serves the daemon's HTTP surface: the live visualizer record,
// decoder and gesture state, an LED preview, capture statistics and the
// report port reload endpoint.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/musicviz/musicviz/internal/db"
	"github.com/musicviz/musicviz/internal/gesture"
	"github.com/musicviz/musicviz/internal/hidproto"
	"github.com/musicviz/musicviz/internal/preview"
	"github.com/musicviz/musicviz/internal/serialmux"
	"github.com/musicviz/musicviz/internal/vizstate"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Options wires the server to the running daemon. State and Clock are
// required; the rest may be nil and their endpoints then report 503.
type Options struct {
	State      *vizstate.State
	Clock      hidproto.Millis
	StaleAfter time.Duration

	Decoder  *hidproto.Decoder
	Ports    serialmux.ReportMuxInterface
	Manager  *ReportPortManager
	Gestures *gesture.Set
	DB       *db.DB
	Capture  *db.CaptureWriter
}

type Server struct {
	opts Options
}

func NewServer(opts Options) *Server {
	return &Server{opts: opts}
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
	mux.HandleFunc("/api/visualizer", s.showVisualizer)
	mux.HandleFunc("/api/decoder/stats", s.showDecoderStats)
	mux.HandleFunc("/api/gestures", s.showGestures)
	mux.HandleFunc("/api/preview", s.showPreview)
	mux.HandleFunc("/api/captures/stats", s.showCaptureStats)
	mux.HandleFunc("/api/captures/recent", s.listRecentCaptures)
	mux.HandleFunc("/api/serial/config", s.showPortConfig)
	mux.HandleFunc("/api/serial/reload", s.reloadPort)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func requireGet(s *Server, w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// VisualizerResponse is the current record plus how fresh it is.
type VisualizerResponse struct {
	vizstate.Snapshot
	NowMs uint32 `json:"now_ms"`
	AgeMs uint32 `json:"age_ms"`
	Stale bool   `json:"stale"`
}

func (s *Server) showVisualizer(w http.ResponseWriter, r *http.Request) {
	if !requireGet(s, w, r) {
		return
	}
	snap := s.opts.State.Read()
	now := s.opts.Clock.Millis()
	resp := VisualizerResponse{
		Snapshot: snap,
		NowMs:    now,
		Stale:    snap.Stale(now, uint32(s.opts.StaleAfter.Milliseconds())),
	}
	if snap.Received {
		resp.AgeMs = snap.AgeMs(now)
	}
	s.writeJSON(w, resp)
}

// DecoderStatsResponse combines decoder outcomes and transport counters.
type DecoderStatsResponse struct {
	hidproto.Stats
	Rejected  uint64           `json:"rejected"`
	Transport *serialmux.Stats `json:"transport,omitempty"`
}

func (s *Server) showDecoderStats(w http.ResponseWriter, r *http.Request) {
	if !requireGet(s, w, r) {
		return
	}
	if s.opts.Decoder == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "decoder not running")
		return
	}
	stats := s.opts.Decoder.Stats()
	resp := DecoderStatsResponse{Stats: stats, Rejected: stats.Rejected()}
	if s.opts.Ports != nil {
		t := s.opts.Ports.Stats()
		resp.Transport = &t
	}
	s.writeJSON(w, resp)
}

func (s *Server) showGestures(w http.ResponseWriter, r *http.Request) {
	if !requireGet(s, w, r) {
		return
	}
	if s.opts.Gestures == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "gestures not configured")
		return
	}
	s.writeJSON(w, s.opts.Gestures.Status())
}

// PreviewLED is one rendered LED with its position.
type PreviewLED struct {
	preview.Point
	preview.RGB
}

type PreviewResponse struct {
	Seq  uint64       `json:"seq"`
	LEDs []PreviewLED `json:"leds"`
}

func (s *Server) showPreview(w http.ResponseWriter, r *http.Request) {
	if !requireGet(s, w, r) {
		return
	}
	snap := s.opts.State.Read()
	colors := preview.Render(snap)
	resp := PreviewResponse{Seq: snap.Seq, LEDs: make([]PreviewLED, len(colors))}
	for i, c := range colors {
		resp.LEDs[i] = PreviewLED{Point: preview.Layout[i], RGB: c}
	}
	s.writeJSON(w, resp)
}

// sessionParam resolves the session query parameter: explicit value, then
// the session being captured, then the latest stored session.
func (s *Server) sessionParam(r *http.Request) (string, error) {
	if id := r.URL.Query().Get("session"); id != "" {
		return id, nil
	}
	if s.opts.Capture != nil {
		return s.opts.Capture.SessionID(), nil
	}
	latest, err := s.opts.DB.LatestSession()
	if err != nil {
		return "", err
	}
	return latest.ID, nil
}

func limitParam(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid 'limit' parameter")
	}
	return min(n, max), nil
}

func (s *Server) listRecentCaptures(w http.ResponseWriter, r *http.Request) {
	if !requireGet(s, w, r) {
		return
	}
	if s.opts.DB == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "capture database not configured")
		return
	}
	limit, err := limitParam(r, 50, 1000)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	captures, err := s.opts.DB.RecentReports(r.URL.Query().Get("session"), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to retrieve captures")
		return
	}
	if captures == nil {
		captures = []db.Capture{}
	}
	s.writeJSON(w, captures)
}

func (s *Server) showPortConfig(w http.ResponseWriter, r *http.Request) {
	if !requireGet(s, w, r) {
		return
	}
	if s.opts.Manager == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "report port manager not configured")
		return
	}
	s.writeJSON(w, s.opts.Manager.Snapshot())
}

func (s *Server) reloadPort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.opts.Manager == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "report port manager not configured")
		return
	}
	result, err := s.opts.Manager.ReloadConfig(r.Context())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, result)
}
