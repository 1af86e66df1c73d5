// Command musicviz runs the keyboard-side daemon: it decodes visualizer
// reports from the host link into the shared record, turns tap-dance keys
// into key combos, captures both into SQLite and serves the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/musicviz/musicviz/internal/api"
	"github.com/musicviz/musicviz/internal/config"
	"github.com/musicviz/musicviz/internal/db"
	"github.com/musicviz/musicviz/internal/gesture"
	"github.com/musicviz/musicviz/internal/hidout"
	"github.com/musicviz/musicviz/internal/hidproto"
	"github.com/musicviz/musicviz/internal/hostfeed"
	"github.com/musicviz/musicviz/internal/monitoring"
	"github.com/musicviz/musicviz/internal/serialmux"
	"github.com/musicviz/musicviz/internal/timeutil"
	"github.com/musicviz/musicviz/internal/version"
	"github.com/musicviz/musicviz/internal/vizstate"
)

var (
	configPath = flag.String("config", "", "Path to a .json or .yaml configuration file")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	port       = flag.String("port", "", "Serial port carrying visualizer reports (overrides config)")
	dbPath     = flag.String("db", "", "Capture database path (overrides config)")
	mock       = flag.Bool("mock", false, "Feed reports from the built-in synthesiser instead of a serial port")
	label      = flag.String("label", "", "Label for the capture session")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
	noKeys     = flag.Bool("no-keys", false, "Disable key input")
)

// mockPortPath selects the synthesiser in place of a serial device.
const mockPortPath = "mock"

func main() {
	flag.Parse()

	if flag.Arg(0) == "migrate" {
		cfg := loadConfig()
		if err := db.RunMigrateCommand(flag.Args()[1:], resolveDBPath(cfg), os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	cfg := loadConfig()
	monitoring.SetVerbose(*verbose || cfg.GetVerbose())
	log.Printf("musicviz %s", version.String())

	clock := timeutil.RealClock{}
	uptime := timeutil.NewUptime(clock)

	ports, err := newPortManager(cfg)
	if err != nil {
		log.Fatalf("failed to open report port: %v", err)
	}
	defer ports.Close()

	state, writer := vizstate.New()
	decoder := hidproto.NewDecoder(writer, uptime)

	database, err := db.NewDB(resolveDBPath(cfg))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	emitter, closeEmitters, err := newEmitters(cfg)
	if err != nil {
		log.Fatalf("failed to set up key output: %v", err)
	}
	defer closeEmitters()

	bindings, err := cfg.GetBindings()
	if err != nil {
		log.Fatalf("invalid bindings: %v", err)
	}
	set, err := gesture.NewSet(bindings, emitter, clock, cfg.GetSettleDelay())
	if err != nil {
		log.Fatalf("invalid bindings: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var capture *db.CaptureWriter
	if cfg.GetCapture() {
		source := ports.Snapshot().PortPath
		session, err := database.StartSession(*label, source, clock.Now())
		if err != nil {
			log.Fatalf("failed to start capture session: %v", err)
		}
		log.Printf("capturing to session %s", session.ID)
		capture = db.NewCaptureWriter(database, session.ID, clock, 0)
		decoder.SetObserver(capture.ObserveReport)
		set.SetObserver(capture.ObserveGesture)
		capture.Start(ctx)
	}

	set.Start(ctx)

	// run the monitor routine to manage IO on the report port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ports.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor report port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// decode every report into the shared record
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := ports.Subscribe()
		defer ports.Unsubscribe(id)
		for {
			select {
			case report, ok := <-c:
				if !ok {
					return
				}
				decoder.Receive(report)
			case <-ctx.Done():
				log.Printf("decoder routine terminated")
				return
			}
		}
	}()

	if !*noKeys {
		in, err := openKeyInput(cfg.GetKeyInput())
		if err != nil {
			log.Fatalf("failed to open key input: %v", err)
		}
		defer in.Close()

		rec := gesture.NewRecognizer(set.Sinks(), cfg.GetTappingTerm())
		events := make(chan gesture.KeyEvent, 16)

		// The reader is not joined: a blocked read on stdin cannot be
		// interrupted, and closing the input on exit unblocks a serial port.
		go func() {
			defer close(events)
			if err := readKeyEvents(ctx, in, clock, events); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("key input stopped: %v", err)
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			runRecognizer(ctx, rec, clock, events)
			log.Print("key routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(api.Options{
			State:      state,
			Clock:      uptime,
			StaleAfter: cfg.GetStaleAfter(),
			Decoder:    decoder,
			Ports:      ports,
			Manager:    ports,
			Gestures:   set,
			DB:         database,
			Capture:    capture,
		})
		mux := apiServer.ServeMux()

		ports.AttachAdminRoutes(mux)
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}
		apiServer.AttachAdminRoutes(mux)

		addr := cfg.GetListen()
		if *listen != "" {
			addr = *listen
		}
		server := &http.Server{
			Addr:    addr,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	// Runners apply whatever was queued and release held combos before exiting.
	set.Wait()

	if capture != nil {
		capture.Wait()
		log.Printf("capture closed: %+v", capture.Stats())
	}
	log.Printf("Graceful shutdown complete")
}

func loadConfig() *config.Config {
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func resolveDBPath(cfg *config.Config) string {
	if *dbPath != "" {
		return *dbPath
	}
	return cfg.GetDBPath()
}

// portSource re-reads the configuration file so a reload picks up edits.
// Command-line overrides stay in force.
func portSource() (string, serialmux.PortOptions, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return "", serialmux.PortOptions{}, err
	}
	return resolvePort(cfg), cfg.GetSerialOptions(), nil
}

func resolvePort(cfg *config.Config) string {
	switch {
	case *mock:
		return mockPortPath
	case *port != "":
		return *port
	default:
		return cfg.GetSerialPort()
	}
}

// openPort is the manager's factory: no path disables the link, "mock"
// starts the synthesiser and anything else is a serial device.
func openPort(path string, opts serialmux.PortOptions) (serialmux.ReportMuxInterface, error) {
	switch path {
	case "":
		log.Print("no report port configured; visualizer link disabled")
		return serialmux.NewDisabledReportMux(), nil
	case mockPortPath:
		cfg, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		palette, err := hostfeed.LookupPalette(cfg.GetPalette())
		if err != nil {
			return nil, err
		}
		return serialmux.NewMockReportMux(synthReports(palette), cfg.GetSendInterval()), nil
	default:
		mux, err := serialmux.NewRealReportMux(path, opts)
		if err != nil {
			return nil, err
		}
		return mux, nil
	}
}

// synthReports generates reports from a synthetic audio feed.
func synthReports(palette hostfeed.Palette) func() []byte {
	synth := hostfeed.NewSynth(time.Now().UnixNano())
	start := time.Now()
	return func() []byte {
		report := hostfeed.BuildReport(synth.Next(time.Since(start)), palette, 255)
		return report[:]
	}
}

func newPortManager(cfg *config.Config) (*api.ReportPortManager, error) {
	path := resolvePort(cfg)
	opts, err := cfg.GetSerialOptions().Normalise()
	if err != nil {
		return nil, err
	}
	initial, err := openPort(path, opts)
	if err != nil {
		return nil, err
	}
	source := "config"
	if *mock || *port != "" {
		source = "flag"
	}
	snapshot := api.PortSnapshot{PortPath: path, Source: source, Options: opts}
	return api.NewReportPortManager(initial, snapshot, portSource, openPort), nil
}

// newEmitters builds the key output chain: the HID gadget and MIDI when
// configured, with a log line for every press and release.
func newEmitters(cfg *config.Config) (hidout.Emitter, func(), error) {
	emitters := hidout.Multi{hidout.LogEmitter{}}
	var closers []io.Closer

	if path := cfg.GetHIDOutput(); path != "" {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("open HID output %s: %w", path, err)
		}
		closers = append(closers, f)
		emitters = append(emitters, hidout.NewReportEmitter(f))
	}

	if name, channel := cfg.GetMIDI(); name != "" {
		m, out, err := hidout.OpenMIDIEmitter(name, channel)
		if err == nil {
			closers = append(closers, out)
			err = applyMIDINotes(m, cfg)
		}
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return nil, nil, err
		}
		emitters = append(emitters, m)
	}

	return emitters, func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.Printf("close output: %v", err)
			}
		}
	}, nil
}

// applyMIDINotes pins the configured combos to their notes.
func applyMIDINotes(m *hidout.MIDIEmitter, cfg *config.Config) error {
	notes, err := cfg.GetMIDINotes()
	if err != nil {
		return err
	}
	for combo, note := range notes {
		m.MapNote(combo, note)
	}
	return nil
}

// openKeyInput returns stdin for "-" and otherwise opens a serial port
// streaming key lines.
func openKeyInput(path string) (io.ReadCloser, error) {
	if path == "-" || path == "" {
		return io.NopCloser(os.Stdin), nil
	}
	return serialmux.OpenSerialPort(path, serialmux.PortOptions{})
}
