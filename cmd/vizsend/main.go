// Command vizsend is the host side of the visualizer link: it turns audio
// features into reports and writes them to the keyboard's serial port at a
// fixed rate. Without live audio it drives the link from the synthesiser.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/musicviz/musicviz/internal/config"
	"github.com/musicviz/musicviz/internal/hostfeed"
	"github.com/musicviz/musicviz/internal/monitoring"
	"github.com/musicviz/musicviz/internal/serialmux"
	"github.com/musicviz/musicviz/internal/timeutil"
	"github.com/musicviz/musicviz/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to a .json or .yaml configuration file")
	port       = flag.String("port", "", "Serial port to send reports to (overrides config)")
	palette    = flag.String("palette", "", "Palette name (overrides config)")
	cycle      = flag.Duration("cycle", 0, "Advance to the next palette at this interval (0 keeps one palette)")
	interval   = flag.Duration("interval", 0, "Send interval (overrides config)")
	saturation = flag.Uint("saturation", 255, "Colour saturation 0-255")
	seed       = flag.Int64("seed", 0, "Synthesiser seed (0 uses the current time)")
	duration   = flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	dryRun     = flag.Bool("dry-run", false, "Print reports as hex instead of sending them")
	listPorts  = flag.Bool("list", false, "List serial ports and exit")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

// sender owns the state of one send loop.
type sender struct {
	synth      *hostfeed.Synth
	palette    hostfeed.Palette
	saturation uint8
	cycle      time.Duration
	send       func([]byte) error

	start     time.Time
	lastCycle time.Time
	sent      uint64
}

// step builds and sends the report for now.
func (s *sender) step(now time.Time) error {
	if s.cycle > 0 && now.Sub(s.lastCycle) >= s.cycle {
		s.palette = hostfeed.NextPalette(s.palette.Name)
		s.lastCycle = now
		monitoring.Logf("palette: %s", s.palette.Name)
	}
	report := hostfeed.BuildReport(s.synth.Next(now.Sub(s.start)), s.palette, s.saturation)
	if err := s.send(report[:]); err != nil {
		return err
	}
	s.sent++
	return nil
}

// run sends a report on every tick until ctx is done.
func (s *sender) run(ctx context.Context, clock timeutil.Clock, every time.Duration) error {
	s.start = clock.Now()
	s.lastCycle = s.start
	ticker := clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C():
			if err := s.step(now); err != nil {
				return err
			}
		}
	}
}

func hexWriter(w io.Writer) func([]byte) error {
	return func(report []byte) error {
		_, err := fmt.Fprintln(w, hex.EncodeToString(report))
		return err
	}
}

func main() {
	flag.Parse()
	monitoring.SetVerbose(*verbose)

	if *listPorts {
		ports, err := serialmux.ListPorts()
		if err != nil {
			log.Fatalf("failed to list ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	name := cfg.GetPalette()
	if *palette != "" {
		name = *palette
	}
	pal, err := hostfeed.LookupPalette(name)
	if err != nil {
		log.Fatal(err)
	}
	every := cfg.GetSendInterval()
	if *interval > 0 {
		every = *interval
	}
	if *saturation > 255 {
		log.Fatalf("saturation %d out of range", *saturation)
	}
	s := *seed
	if s == 0 {
		s = time.Now().UnixNano()
	}

	snd := &sender{
		synth:      hostfeed.NewSynth(s),
		palette:    pal,
		saturation: uint8(*saturation),
		cycle:      *cycle,
	}

	if *dryRun {
		snd.send = hexWriter(os.Stdout)
	} else {
		path := cfg.GetSerialPort()
		if *port != "" {
			path = *port
		}
		if path == "" {
			log.Fatal("Serial port is required (or use -dry-run)")
		}
		mux, err := serialmux.NewRealReportMux(path, cfg.GetSerialOptions())
		if err != nil {
			log.Fatalf("failed to open report port: %v", err)
		}
		defer mux.Close()
		snd.send = mux.SendReport
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	log.Printf("vizsend %s: palette %s every %v", version.String(), pal.Name, every)
	if err := snd.run(ctx, timeutil.RealClock{}, every); err != nil {
		log.Fatalf("send failed after %d reports: %v", snd.sent, err)
	}
	log.Printf("sent %d reports", snd.sent)
}
