// Package main summarises a capture session from the musicviz database:
// verdict counts, per-band level statistics, gesture classes and a PNG plot
// of the levels over time.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image/color"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/musicviz/musicviz/internal/db"
	"github.com/musicviz/musicviz/internal/gesture"
)

// Config holds the command-line options.
type Config struct {
	DBPath    string
	SessionID string
	Limit     int
	OutputDir string
	JSON      bool
	List      bool
}

// AnalysisResult is everything reported about one session.
type AnalysisResult struct {
	Session      db.Session              `json:"session"`
	Verdicts     map[string]int          `json:"verdicts"`
	Samples      int                     `json:"samples"`
	Bands        map[string]db.BandStats `json:"bands"`
	BeatFraction float64                 `json:"beat_fraction"`
	Gestures     map[string]int          `json:"gestures"`
	DurationMs   uint32                  `json:"duration_ms"`
	PlotFile     string                  `json:"plot_file,omitempty"`
}

func main() {
	cfg := Config{}
	flag.StringVar(&cfg.DBPath, "db", "musicviz.db", "Capture database path")
	flag.StringVar(&cfg.SessionID, "session", "", "Session ID (default: latest)")
	flag.IntVar(&cfg.Limit, "limit", 100000, "Maximum accepted reports to analyse")
	flag.StringVar(&cfg.OutputDir, "out", "", "Directory for the levels plot (empty skips the plot)")
	flag.BoolVar(&cfg.JSON, "json", false, "Print the result as JSON")
	flag.BoolVar(&cfg.List, "list", false, "List sessions and exit")
	flag.Parse()

	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	if cfg.List {
		sessions, err := database.Sessions(50)
		if err != nil {
			log.Fatalf("failed to list sessions: %v", err)
		}
		for _, s := range sessions {
			fmt.Printf("%s  %s  %-12s %s\n", s.ID, s.StartedAt.Format("2006-01-02 15:04:05"), s.Source, s.Label)
		}
		return
	}

	result, points, err := analyse(database, cfg)
	if err != nil {
		log.Fatal(err)
	}
	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			log.Fatalf("failed to create output dir: %v", err)
		}
		result.PlotFile = filepath.Join(cfg.OutputDir, fmt.Sprintf("levels_%s.png", result.Session.ID))
		if err := plotLevels(points, result.PlotFile); err != nil {
			log.Fatalf("failed to plot levels: %v", err)
		}
	}

	if cfg.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			log.Fatal(err)
		}
		return
	}
	printSummary(os.Stdout, result)
}

// analyse loads one session and computes its summary.
func analyse(database *db.DB, cfg Config) (*AnalysisResult, []db.LevelPoint, error) {
	session, err := findSession(database, cfg.SessionID)
	if err != nil {
		return nil, nil, err
	}
	verdicts, err := database.ReportCounts(session.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("count reports: %w", err)
	}
	points, err := database.LevelSeries(session.ID, cfg.Limit)
	if err != nil {
		return nil, nil, fmt.Errorf("load levels: %w", err)
	}
	events, err := database.GestureEvents(session.ID, -1)
	if err != nil {
		return nil, nil, fmt.Errorf("load gestures: %w", err)
	}

	result := &AnalysisResult{
		Session:  session,
		Verdicts: verdicts,
		Samples:  len(points),
		Gestures: map[string]int{},
	}
	result.Bands, result.BeatFraction = db.SummariseLevels(points)
	if len(points) > 1 {
		result.DurationMs = points[len(points)-1].RxMs - points[0].RxMs
	}
	for _, ev := range events {
		if ev.Phase == string(gesture.PhaseFinish) {
			result.Gestures[ev.Class]++
		}
	}
	return result, points, nil
}

func findSession(database *db.DB, id string) (db.Session, error) {
	if id == "" {
		return database.LatestSession()
	}
	sessions, err := database.Sessions(-1)
	if err != nil {
		return db.Session{}, err
	}
	for _, s := range sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return db.Session{}, errors.New("session not found: " + id)
}

func printSummary(w io.Writer, r *AnalysisResult) {
	fmt.Fprintf(w, "Session %s (%s) started %s\n", r.Session.ID, r.Session.Source, r.Session.StartedAt.Format("2006-01-02 15:04:05"))
	if r.Session.Label != "" {
		fmt.Fprintf(w, "Label: %s\n", r.Session.Label)
	}

	fmt.Fprintln(w, "\nReports:")
	for _, k := range sortedKeys(r.Verdicts) {
		fmt.Fprintf(w, "  %-14s %d\n", k, r.Verdicts[k])
	}

	fmt.Fprintf(w, "\nLevels over %d reports (%.1fs), on-beat %.1f%%:\n", r.Samples, float64(r.DurationMs)/1000, r.BeatFraction*100)
	fmt.Fprintf(w, "  %-13s %7s %7s %7s %7s %7s\n", "band", "mean", "std", "p50", "p95", "max")
	for _, k := range sortedKeys(r.Bands) {
		b := r.Bands[k]
		fmt.Fprintf(w, "  %-13s %7.1f %7.1f %7.1f %7.1f %7.1f\n", k, b.Mean, b.StdDev, b.P50, b.P95, b.Max)
	}

	if len(r.Gestures) > 0 {
		fmt.Fprintln(w, "\nGestures:")
		for _, k := range sortedKeys(r.Gestures) {
			fmt.Fprintf(w, "  %-18s %d\n", k, r.Gestures[k])
		}
	}
	if r.PlotFile != "" {
		fmt.Fprintf(w, "\nPlot: %s\n", r.PlotFile)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// plotLevels draws gain and the three bands against receive time.
func plotLevels(points []db.LevelPoint, file string) error {
	if len(points) == 0 {
		return errors.New("no accepted reports to plot")
	}
	p := plot.New()
	p.Title.Text = "Audio levels"
	p.X.Label.Text = "rx (s)"
	p.Y.Label.Text = "level"
	p.Y.Min, p.Y.Max = 0, 255

	series := []struct {
		name  string
		get   func(db.LevelPoint) uint8
		color color.Color
	}{
		{"master_gain", func(lp db.LevelPoint) uint8 { return lp.MasterGain }, color.RGBA{R: 200, G: 200, B: 200, A: 255}},
		{"bass", func(lp db.LevelPoint) uint8 { return lp.Bass }, color.RGBA{R: 220, G: 40, B: 60, A: 255}},
		{"mid", func(lp db.LevelPoint) uint8 { return lp.Mid }, color.RGBA{R: 40, G: 180, B: 80, A: 255}},
		{"treble", func(lp db.LevelPoint) uint8 { return lp.Treble }, color.RGBA{R: 60, G: 100, B: 230, A: 255}},
	}
	start := points[0].RxMs
	for _, s := range series {
		pts := make(plotter.XYs, len(points))
		for i, lp := range points {
			pts[i] = plotter.XY{X: float64(lp.RxMs-start) / 1000, Y: float64(s.get(lp))}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("line %s: %w", s.name, err)
		}
		line.Color = s.color
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p.Save(14*vg.Inch, 6*vg.Inch, file)
}
