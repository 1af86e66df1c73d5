package db

import (
	"compress/gzip"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/musicviz/musicviz/internal/gesture"
	"github.com/musicviz/musicviz/internal/monitoring"
	"github.com/musicviz/musicviz/internal/vizstate"
)

var ErrNoSessions = errors.New("no capture sessions recorded")

// DB is the capture store: received reports and gesture events, grouped
// into sessions (one per daemon run).
type DB struct {
	*sql.DB
	path string
}

// OpenDB opens the sqlite database at path and applies connection pragmas
// without touching the schema.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return &DB{DB: db, path: path}, nil
}

// NewDB opens the database and migrates it to the latest schema.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Session is one capture run.
type Session struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Source    string    `json:"source"`
	StartedAt time.Time `json:"started_at"`
}

// StartSession creates a session with a fresh random ID.
func (db *DB) StartSession(label, source string, at time.Time) (Session, error) {
	s := Session{ID: uuid.NewString(), Label: label, Source: source, StartedAt: at}
	_, err := db.Exec(`INSERT INTO sessions (session_id, label, source, started_ns) VALUES (?, ?, ?, ?)`,
		s.ID, s.Label, s.Source, at.UnixNano())
	if err != nil {
		return Session{}, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// Sessions returns up to limit sessions, newest first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	rows, err := db.Query(`SELECT session_id, label, source, started_ns FROM sessions
		ORDER BY started_ns DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var ns int64
		if err := rows.Scan(&s.ID, &s.Label, &s.Source, &ns); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(0, ns).UTC()
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// LatestSession returns the most recently started session.
func (db *DB) LatestSession() (Session, error) {
	sessions, err := db.Sessions(1)
	if err != nil {
		return Session{}, err
	}
	if len(sessions) == 0 {
		return Session{}, ErrNoSessions
	}
	return sessions[0], nil
}

// Capture is one received report. Record is nil for rejected reports.
type Capture struct {
	ID         int64            `json:"id"`
	SessionID  string           `json:"session_id"`
	RxMs       uint32           `json:"rx_ms"`
	Verdict    string           `json:"verdict"`
	Raw        []byte           `json:"raw"`
	Record     *vizstate.Record `json:"record,omitempty"`
	RecordedAt time.Time        `json:"recorded_at"`
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// RecordReport stores one received report.
func (db *DB) RecordReport(c Capture) error {
	args := []any{c.SessionID, int64(c.RxMs), c.Verdict, c.Raw}
	if r := c.Record; r != nil {
		args = append(args,
			boolInt(r.Enabled), boolInt(r.StrobeEnable), boolInt(r.SafetyLimit),
			r.MasterGain, r.LoudnessRMS, r.LoudnessPeak, r.Bass, r.Mid, r.Treble, r.Beat,
			r.HueBass, r.HueMid, r.HueTreble, r.Saturation, r.FxSpeed,
			r.ShockwaveStrength, r.PerimeterSparkle, r.BeatRefractoryMs)
	} else {
		for i := 0; i < 18; i++ {
			args = append(args, nil)
		}
	}
	args = append(args, c.RecordedAt.UnixNano())

	_, err := db.Exec(`INSERT INTO reports (
			session_id, rx_ms, verdict, raw,
			enabled, strobe_enable, safety_limit,
			master_gain, loudness_rms, loudness_peak, bass, mid, treble, beat,
			hue_bass, hue_mid, hue_treble, saturation, fx_speed,
			shockwave_strength, perimeter_sparkle, beat_refractory_ms,
			recorded_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	return err
}

// RecentReports returns up to limit reports of a session, newest first. An
// empty sessionID spans all sessions.
func (db *DB) RecentReports(sessionID string, limit int) ([]Capture, error) {
	rows, err := db.Query(`SELECT report_id, session_id, rx_ms, verdict, raw,
			enabled, strobe_enable, safety_limit,
			master_gain, loudness_rms, loudness_peak, bass, mid, treble, beat,
			hue_bass, hue_mid, hue_treble, saturation, fx_speed,
			shockwave_strength, perimeter_sparkle, beat_refractory_ms,
			recorded_ns
		FROM reports WHERE (? = '' OR session_id = ?)
		ORDER BY report_id DESC LIMIT ?`, sessionID, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var captures []Capture
	for rows.Next() {
		var (
			c                        Capture
			rxMs, ns                 int64
			enabled, strobe, safety  sql.NullInt64
			gain, rms, peak          sql.NullInt64
			bass, mid, treble, beat  sql.NullInt64
			hueB, hueM, hueT, sat    sql.NullInt64
			fx, shock, sparkle, refr sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.SessionID, &rxMs, &c.Verdict, &c.Raw,
			&enabled, &strobe, &safety,
			&gain, &rms, &peak, &bass, &mid, &treble, &beat,
			&hueB, &hueM, &hueT, &sat, &fx,
			&shock, &sparkle, &refr, &ns); err != nil {
			return nil, err
		}
		c.RxMs = uint32(rxMs)
		c.RecordedAt = time.Unix(0, ns).UTC()
		if enabled.Valid {
			c.Record = &vizstate.Record{
				Enabled:           enabled.Int64 != 0,
				StrobeEnable:      strobe.Int64 != 0,
				SafetyLimit:       safety.Int64 != 0,
				MasterGain:        uint8(gain.Int64),
				LoudnessRMS:       uint8(rms.Int64),
				LoudnessPeak:      uint8(peak.Int64),
				Bass:              uint8(bass.Int64),
				Mid:               uint8(mid.Int64),
				Treble:            uint8(treble.Int64),
				Beat:              uint8(beat.Int64),
				HueBass:           uint8(hueB.Int64),
				HueMid:            uint8(hueM.Int64),
				HueTreble:         uint8(hueT.Int64),
				Saturation:        uint8(sat.Int64),
				FxSpeed:           uint8(fx.Int64),
				ShockwaveStrength: uint8(shock.Int64),
				PerimeterSparkle:  uint8(sparkle.Int64),
				BeatRefractoryMs:  uint8(refr.Int64),
				LastRxMs:          c.RxMs,
			}
		}
		captures = append(captures, c)
	}
	return captures, rows.Err()
}

// LevelPoint is the audio-level part of one accepted report.
type LevelPoint struct {
	RxMs        uint32 `json:"rx_ms"`
	MasterGain  uint8  `json:"master_gain"`
	LoudnessRMS uint8  `json:"loudness_rms"`
	Bass        uint8  `json:"bass"`
	Mid         uint8  `json:"mid"`
	Treble      uint8  `json:"treble"`
	Beat        uint8  `json:"beat"`
}

// LevelSeries returns the last limit accepted reports of a session, oldest
// first, for charting.
func (db *DB) LevelSeries(sessionID string, limit int) ([]LevelPoint, error) {
	rows, err := db.Query(`SELECT rx_ms, master_gain, loudness_rms, bass, mid, treble, beat FROM (
			SELECT report_id, rx_ms, master_gain, loudness_rms, bass, mid, treble, beat
			FROM reports WHERE session_id = ? AND verdict = 'accepted'
			ORDER BY report_id DESC LIMIT ?
		) ORDER BY report_id ASC`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []LevelPoint
	for rows.Next() {
		var p LevelPoint
		var rxMs int64
		if err := rows.Scan(&rxMs, &p.MasterGain, &p.LoudnessRMS, &p.Bass, &p.Mid, &p.Treble, &p.Beat); err != nil {
			return nil, err
		}
		p.RxMs = uint32(rxMs)
		points = append(points, p)
	}
	return points, rows.Err()
}

// ReportCounts returns the number of reports per verdict in a session.
func (db *DB) ReportCounts(sessionID string) (map[string]int, error) {
	rows, err := db.Query(`SELECT verdict, COUNT(*) FROM reports WHERE session_id = ? GROUP BY verdict`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var verdict string
		var n int
		if err := rows.Scan(&verdict, &n); err != nil {
			return nil, err
		}
		counts[verdict] = n
	}
	return counts, rows.Err()
}

// GestureRow is a stored gesture.Event.
type GestureRow struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	Binding     string    `json:"binding"`
	Phase       string    `json:"phase"`
	Class       string    `json:"class"`
	Count       int       `json:"count"`
	Pressed     bool      `json:"pressed"`
	Interrupted bool      `json:"interrupted"`
	Combo       string    `json:"combo"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// RecordGesture stores one finish or reset.
func (db *DB) RecordGesture(sessionID string, ev gesture.Event) error {
	combo := ""
	if !ev.Combo.IsZero() {
		combo = ev.Combo.String()
	}
	_, err := db.Exec(`INSERT INTO gesture_events (
			session_id, binding, phase, class, tap_count, pressed, interrupted, combo, occurred_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, ev.Binding, string(ev.Phase), ev.Class.String(),
		ev.Obs.Count, boolInt(ev.Obs.Pressed), boolInt(ev.Obs.Interrupted), combo, ev.At.UnixNano())
	return err
}

// GestureEvents returns up to limit events of a session, newest first.
func (db *DB) GestureEvents(sessionID string, limit int) ([]GestureRow, error) {
	rows, err := db.Query(`SELECT event_id, session_id, binding, phase, class,
			tap_count, pressed, interrupted, combo, occurred_ns
		FROM gesture_events WHERE session_id = ?
		ORDER BY event_id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []GestureRow
	for rows.Next() {
		var g GestureRow
		var pressed, interrupted int
		var ns int64
		if err := rows.Scan(&g.ID, &g.SessionID, &g.Binding, &g.Phase, &g.Class,
			&g.Count, &pressed, &interrupted, &g.Combo, &ns); err != nil {
			return nil, err
		}
		g.Pressed, g.Interrupted = pressed != 0, interrupted != 0
		g.OccurredAt = time.Unix(0, ns).UTC()
		events = append(events, g)
	}
	return events, rows.Err()
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Capture DB",
	})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("musicviz-backup-%d.db", time.Now().UnixNano()))
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("Failed to remove backup file: %v", err)
			}
		}()

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer backupFile.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
		w.Header().Set("Content-Type", "application/gzip")

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			monitoring.Logf("Failed to stream backup: %v", err)
		}
	}))
	return nil
}
