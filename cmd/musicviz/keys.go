package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/musicviz/musicviz/internal/gesture"
	"github.com/musicviz/musicviz/internal/monitoring"
	"github.com/musicviz/musicviz/internal/timeutil"
)

// keyTick is how often pending tap sequences are checked against the
// tapping term.
const keyTick = 5 * time.Millisecond

// parseKeyLine parses one line of key input: "<key> down" or "<key> up".
// Blank lines and lines starting with '#' are skipped (ok is false).
func parseKeyLine(line string, at time.Time) (ev gesture.KeyEvent, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return gesture.KeyEvent{}, false, nil
	}
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return gesture.KeyEvent{}, false, fmt.Errorf("malformed key line %q: want \"<key> down|up\"", line)
	}
	ev = gesture.KeyEvent{Key: fields[0], At: at}
	switch strings.ToLower(fields[1]) {
	case "down", "press", "1":
		ev.Pressed = true
	case "up", "release", "0":
	default:
		return gesture.KeyEvent{}, false, fmt.Errorf("unknown key action %q", fields[1])
	}
	return ev, true, nil
}

// readKeyEvents scans r line by line and forwards parsed events until r is
// exhausted or ctx is done. Malformed lines are logged and skipped.
func readKeyEvents(ctx context.Context, r io.Reader, clock timeutil.Clock, events chan<- gesture.KeyEvent) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		ev, ok, err := parseKeyLine(sc.Text(), clock.Now())
		if err != nil {
			monitoring.Logf("key input: %v", err)
			continue
		}
		if !ok {
			continue
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return sc.Err()
}

// runRecognizer owns the recognizer: it applies key events in arrival order
// and ticks pending sequences so they finish once the tapping term expires.
func runRecognizer(ctx context.Context, rec *gesture.Recognizer, clock timeutil.Clock, events <-chan gesture.KeyEvent) {
	ticker := clock.NewTicker(keyTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			monitoring.Debugf("key %s pressed=%v", ev.Key, ev.Pressed)
			rec.HandleEvent(ev)
		case now := <-ticker.C():
			rec.Tick(now)
		}
	}
}
