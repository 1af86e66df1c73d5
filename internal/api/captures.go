package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/musicviz/musicviz/internal/db"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// CaptureStatsResponse is the /api/captures/stats response.
type CaptureStatsResponse struct {
	SessionID    string                  `json:"session_id"`
	Verdicts     map[string]int          `json:"verdicts"`
	Samples      int                     `json:"samples"`
	Bands        map[string]db.BandStats `json:"bands,omitempty"`
	BeatFraction float64                 `json:"beat_fraction"`
	Writer       *db.CaptureStats        `json:"writer,omitempty"`
}

func (s *Server) showCaptureStats(w http.ResponseWriter, r *http.Request) {
	if !requireGet(s, w, r) {
		return
	}
	if s.opts.DB == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "capture database not configured")
		return
	}
	sessionID, err := s.sessionParam(r)
	if errors.Is(err, db.ErrNoSessions) {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	} else if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to resolve session")
		return
	}
	limit, err := limitParam(r, 2000, 100000)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	verdicts, err := s.opts.DB.ReportCounts(sessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to count reports")
		return
	}
	points, err := s.opts.DB.LevelSeries(sessionID, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to load levels")
		return
	}

	resp := CaptureStatsResponse{SessionID: sessionID, Verdicts: verdicts, Samples: len(points)}
	resp.Bands, resp.BeatFraction = db.SummariseLevels(points)
	if s.opts.Capture != nil && s.opts.Capture.SessionID() == sessionID {
		ws := s.opts.Capture.Stats()
		resp.Writer = &ws
	}
	s.writeJSON(w, resp)
}

// handleLevelsChart renders the recent audio levels of a session as a line
// chart.
func (s *Server) handleLevelsChart(w http.ResponseWriter, r *http.Request) {
	if s.opts.DB == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "capture database not configured")
		return
	}
	sessionID, err := s.sessionParam(r)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	limit, err := limitParam(r, 600, 10000)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	points, err := s.opts.DB.LevelSeries(sessionID, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to load levels")
		return
	}

	x := make([]string, len(points))
	gain := make([]opts.LineData, len(points))
	bass := make([]opts.LineData, len(points))
	mid := make([]opts.LineData, len(points))
	treble := make([]opts.LineData, len(points))
	beat := make([]opts.LineData, len(points))
	for i, p := range points {
		x[i] = strconv.FormatUint(uint64(p.RxMs), 10)
		gain[i] = opts.LineData{Value: p.MasterGain}
		bass[i] = opts.LineData{Value: p.Bass}
		mid[i] = opts.LineData{Value: p.Mid}
		treble[i] = opts.LineData{Value: p.Treble}
		beat[i] = opts.LineData{Value: p.Beat}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Audio Levels", Theme: "dark", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Audio Levels", Subtitle: fmt.Sprintf("session=%s reports=%d", sessionID, len(points))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "rx (ms)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 255}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	line.SetXAxis(x).
		AddSeries("master_gain", gain).
		AddSeries("bass", bass).
		AddSeries("mid", mid).
		AddSeries("treble", treble).
		AddSeries("beat", beat)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// AttachAdminRoutes adds the level chart to the /debug/ index.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("levels", "Recent audio levels of the capture session", s.handleLevelsChart)
}
