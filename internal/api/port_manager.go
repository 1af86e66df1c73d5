package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/musicviz/musicviz/internal/monitoring"
	"github.com/musicviz/musicviz/internal/serialmux"
)

// PortFactory opens a report mux for the given port path and options. It is
// injected so the manager can be tested and so real, mock and disabled modes
// can supply their own constructors.
type PortFactory func(path string, opts serialmux.PortOptions) (serialmux.ReportMuxInterface, error)

// PortSource reports the port configuration that should be active, normally
// by re-reading the configuration file.
type PortSource func() (path string, opts serialmux.PortOptions, err error)

// PortSnapshot describes the configuration applied to the running mux.
type PortSnapshot struct {
	PortPath string                `json:"port_path"`
	Source   string                `json:"source"`
	Options  serialmux.PortOptions `json:"options"`
}

// PortReloadResult is returned to API clients when a reload is processed.
type PortReloadResult struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Config  *PortSnapshot `json:"config,omitempty"`
}

// ReportPortManager wraps a ReportMuxInterface and allows the report port to
// be swapped at runtime. It implements ReportMuxInterface itself, so the
// decoder loop and admin routes keep working across reloads.
//
// Subscriptions are served from an internal fanout: a background goroutine
// subscribes to whichever mux is current and forwards every report to the
// manager's own subscriber channels, which survive reloads. Close is for
// shutdown only; afterwards SendReport fails and Subscribe returns a closed
// channel.
type ReportPortManager struct {
	mu       sync.RWMutex
	current  serialmux.ReportMuxInterface
	snapshot *PortSnapshot
	closed   bool

	source  PortSource
	factory PortFactory

	reloadMu sync.Mutex

	done        chan struct{}
	fanoutMu    sync.RWMutex
	subscribers map[string]chan []byte
	nextID      uint64
}

// NewReportPortManager starts the fanout goroutine; it runs until Close.
func NewReportPortManager(initial serialmux.ReportMuxInterface, snapshot PortSnapshot, source PortSource, factory PortFactory) *ReportPortManager {
	mgr := &ReportPortManager{
		current:     initial,
		source:      source,
		factory:     factory,
		done:        make(chan struct{}),
		subscribers: make(map[string]chan []byte),
	}
	if snapshot.PortPath != "" {
		snap := snapshot
		mgr.snapshot = &snap
	}
	go mgr.runFanout()
	return mgr
}

// CurrentMux returns the mux currently in use, nil while a reload is
// switching ports.
func (m *ReportPortManager) CurrentMux() serialmux.ReportMuxInterface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns a copy of the active configuration.
func (m *ReportPortManager) Snapshot() PortSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot == nil {
		return PortSnapshot{}
	}
	return *m.snapshot
}

func (m *ReportPortManager) runFanout() {
	var subID string
	var subCh chan []byte

	defer func() {
		if subID != "" {
			if mux := m.CurrentMux(); mux != nil {
				mux.Unsubscribe(subID)
			}
		}
		m.fanoutMu.Lock()
		for id, ch := range m.subscribers {
			close(ch)
			delete(m.subscribers, id)
		}
		m.fanoutMu.Unlock()
	}()

	for {
		if subID == "" {
			m.mu.RLock()
			mux, closed := m.current, m.closed
			m.mu.RUnlock()
			if closed {
				return
			}
			if mux == nil {
				select {
				case <-m.done:
					return
				case <-time.After(250 * time.Millisecond):
				}
				continue
			}
			subID, subCh = mux.Subscribe()
		}

		select {
		case <-m.done:
			return
		case report, ok := <-subCh:
			if !ok {
				// The mux was closed, most likely by a reload.
				subID, subCh = "", nil
				select {
				case <-m.done:
					return
				case <-time.After(50 * time.Millisecond):
				}
				continue
			}
			m.fanoutMu.RLock()
			for _, ch := range m.subscribers {
				select {
				case ch <- report:
				default:
					monitoring.Debugf("report fanout: subscriber full, dropping report")
				}
			}
			m.fanoutMu.RUnlock()
		}
	}
}

// Subscribe returns a channel that stays valid across reloads.
func (m *ReportPortManager) Subscribe() (string, chan []byte) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()

	ch := make(chan []byte, 8)
	if closed {
		close(ch)
		return "", ch
	}

	m.fanoutMu.Lock()
	defer m.fanoutMu.Unlock()
	m.nextID++
	id := fmt.Sprintf("subscriber-%d", m.nextID)
	m.subscribers[id] = ch
	return id, ch
}

func (m *ReportPortManager) Unsubscribe(id string) {
	m.fanoutMu.Lock()
	defer m.fanoutMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

func (m *ReportPortManager) active() (serialmux.ReportMuxInterface, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.New("report port manager is closed")
	}
	if m.current == nil {
		return nil, errors.New("report port unavailable")
	}
	return m.current, nil
}

// SendReport delegates to the current mux.
func (m *ReportPortManager) SendReport(report []byte) error {
	mux, err := m.active()
	if err != nil {
		return err
	}
	return mux.SendReport(report)
}

// Stats returns the current mux's counters; they restart after a reload.
func (m *ReportPortManager) Stats() serialmux.Stats {
	if mux := m.CurrentMux(); mux != nil {
		return mux.Stats()
	}
	return serialmux.Stats{}
}

// Monitor runs the current mux's Monitor and re-attaches to the new mux
// after a reload.
func (m *ReportPortManager) Monitor(ctx context.Context) error {
	for {
		mux := m.CurrentMux()
		if mux == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(250 * time.Millisecond):
				continue
			}
		}

		err := mux.Monitor(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pause := 100 * time.Millisecond
		if err != nil {
			monitoring.Logf("report monitor terminated with error: %v", err)
			pause = 500 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
}

// Close closes the current mux and stops the fanout. Shutdown only.
func (m *ReportPortManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.current != nil {
		if err := m.current.Close(); err != nil {
			monitoring.Logf("failed to close report port during shutdown: %v", err)
		}
	}
	m.current = nil
	m.mu.Unlock()

	close(m.done)
	return nil
}

// AttachAdminRoutes exposes the serialmux debug pages through the manager.
func (m *ReportPortManager) AttachAdminRoutes(mux *http.ServeMux) {
	serialmux.AttachAdminRoutesForMux(mux, m)
}

// ReloadConfig asks the source for the desired port and, if it differs from
// the active one, swaps the mux.
func (m *ReportPortManager) ReloadConfig(ctx context.Context) (*PortReloadResult, error) {
	if m.factory == nil {
		return nil, errors.New("report port factory not configured")
	}
	if m.source == nil {
		return nil, errors.New("report port source not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	path, opts, err := m.source()
	if err != nil {
		return nil, fmt.Errorf("failed to load port configuration: %w", err)
	}
	normalised, err := opts.Normalise()
	if err != nil {
		return nil, fmt.Errorf("invalid port configuration: %w", err)
	}

	next := PortSnapshot{PortPath: path, Source: "config", Options: normalised}
	cur := m.Snapshot()
	if m.CurrentMux() != nil && cur.PortPath == path && cur.Options.Equal(normalised) {
		return &PortReloadResult{
			Success: true,
			Message: fmt.Sprintf("Port %q already active", path),
			Config:  &next,
		}, nil
	}

	// A serial port cannot be opened twice, so release the old one first.
	m.mu.Lock()
	old := m.current
	m.current = nil
	m.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			monitoring.Logf("failed to close previous report port: %v", err)
		}
	}

	newMux, err := m.factory(path, normalised)
	if err != nil {
		// Nothing is open now; forget the old port so a retry reopens it.
		m.mu.Lock()
		m.snapshot = nil
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to open report port %q: %w", path, err)
	}

	m.mu.Lock()
	m.current = newMux
	m.snapshot = &next
	m.mu.Unlock()

	return &PortReloadResult{
		Success: true,
		Message: fmt.Sprintf("Reloaded report port %q", path),
		Config:  &next,
	}, nil
}
