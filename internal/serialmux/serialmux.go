// Serialmux provides an abstraction over the serial link that carries
// fixed-size visualizer reports, with the ability for multiple clients to
// subscribe to received reports and send reports to the single device on
// the other end.
package serialmux

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/musicviz/musicviz/internal/hidproto"
)

var (
	ErrWriteFailed   = errors.New("failed to write to serial port")
	ErrReportSize    = errors.New("report has the wrong size")
	ErrPartialReport = errors.New("serial link closed mid-report")
)

//go:embed templates/*
var adminTemplateFS embed.FS

var sendReportTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-report.html.tmpl"))

// subscriberBuffer lets a subscriber fall this many reports behind before
// reports to it are dropped.
const subscriberBuffer = 8

// Stats counts reports seen by Monitor.
type Stats struct {
	Reports uint64 `json:"reports"`
	Dropped uint64 `json:"dropped"`
	Sent    uint64 `json:"sent"`
	Skipped uint64 `json:"skipped"`
}

// ReportMux is a generic serial port multiplexer that reads fixed-size
// reports from a single port and fans them out to subscribers.
type ReportMux[T SerialPorter] struct {
	port         T
	size         int
	subscribers  map[string]chan []byte
	subscriberMu sync.Mutex
	sendMu       sync.Mutex
	closing      atomic.Bool

	reports atomic.Uint64
	dropped atomic.Uint64
	sent    atomic.Uint64
	skipped atomic.Uint64
}

// ReportMuxInterface defines the interface for the ReportMux type.
type ReportMuxInterface interface {
	// Subscribe creates a new channel for receiving reports from the serial
	// port. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan []byte)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendReport writes one report to the serial port.
	SendReport([]byte) error
	// Monitor reads reports from the serial port and sends them to the
	// subscribed channels.
	Monitor(context.Context) error
	// Stats returns the report counters.
	Stats() Stats
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewReportMux creates a ReportMux reading hidproto.ReportSize reports from
// port.
func NewReportMux[T SerialPorter](port T) *ReportMux[T] {
	return &ReportMux[T]{
		port:        port,
		size:        hidproto.ReportSize,
		subscribers: make(map[string]chan []byte),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *ReportMux[T]) Subscribe() (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closing.Load() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the report mux.
func (s *ReportMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendReport writes exactly one report to the serial port.
func (s *ReportMux[T]) SendReport(report []byte) error {
	if len(report) != s.size {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrReportSize, len(report), s.size)
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	n, err := s.port.Write(report)
	if err != nil {
		return err
	}
	if n != len(report) {
		return ErrWriteFailed
	}
	s.sent.Add(1)
	return nil
}

// Monitor reads reports from the serial port and sends them to subscribers.
// It returns nil when the port reaches EOF on a report boundary. A message
// cut short by the next report header is passed on truncated so decoders
// reject it, and bytes outside any report are skipped.
func (s *ReportMux[T]) Monitor(ctx context.Context) error {
	reportChan := make(chan []byte)
	readErrChan := make(chan error, 1)

	frames := newFrameReader(s.port, s.size, []byte{hidproto.Magic, hidproto.Version}, &s.skipped)

	// The blocking read runs in its own goroutine so the loop below can
	// still observe context cancellation.
	go func() {
		defer close(reportChan)
		for {
			buf, err := frames.next()
			if err != nil {
				switch {
				case errors.Is(err, io.EOF):
				case errors.Is(err, io.ErrUnexpectedEOF):
					readErrChan <- ErrPartialReport
				default:
					readErrChan <- err
				}
				return
			}
			select {
			case reportChan <- buf:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case report, ok := <-reportChan:
			if !ok {
				select {
				case err := <-readErrChan:
					if s.closing.Load() {
						return nil
					}
					return err
				default:
					return nil
				}
			}
			if s.closing.Load() {
				return nil
			}
			s.reports.Add(1)

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- report:
				default:
					// Subscriber is behind; drop rather than stall the link.
					s.dropped.Add(1)
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

func (s *ReportMux[T]) Stats() Stats {
	return Stats{Reports: s.reports.Load(), Dropped: s.dropped.Load(), Sent: s.sent.Load(), Skipped: s.skipped.Load()}
}

func (s *ReportMux[T]) Close() error {
	s.closing.Store(true)

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

// ParseHexReport decodes a report typed as hex, ignoring whitespace, and
// zero-pads it to the report size.
func ParseHexReport(in string, size int) ([]byte, error) {
	clean := strings.Join(strings.Fields(in), "")
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) > size {
		return nil, fmt.Errorf("%w: got %d bytes, want at most %d", ErrReportSize, len(raw), size)
	}
	out := make([]byte, size)
	copy(out, raw)
	return out, nil
}

func (s *ReportMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	AttachAdminRoutesForMux(mux, s)
}

// AttachAdminRoutesForMux registers the send-report form and the live tail
// for any ReportMuxInterface, so wrappers around a mux can expose the same
// pages.
func AttachAdminRoutesForMux(mux *http.ServeMux, s ReportMuxInterface) {
	debug := tsweb.Debugger(mux)
	size := hidproto.ReportSize

	// Hand-crafted report form plus a live tail of received reports.
	debug.HandleFunc("send-report", "send a raw report to the serial port", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendReportTemplate.Execute(buf, map[string]any{"Size": size}); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	debug.HandleSilentFunc("send-report-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		in := strings.TrimSpace(r.FormValue("report"))
		if in == "" {
			http.Error(w, "Missing report", http.StatusBadRequest)
			return
		}
		report, err := ParseHexReport(in, size)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.SendReport(report); err != nil {
			http.Error(w, "Failed to write report", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote report %s to serial port", hex.EncodeToString(report)))
	})

	// Server-Sent Events, one hex-encoded report per event.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case report, ok := <-c:
				if !ok {
					return
				}
				_, err := fmt.Fprintf(w, "data: %s %s\n\n", hex.EncodeToString(report), reportVerdict(report))
				if err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")

		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}

func reportVerdict(report []byte) string {
	_, err := hidproto.Decode(report, 0)
	return hidproto.Verdict(err)
}
