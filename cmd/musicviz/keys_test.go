package main

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musicviz/musicviz/internal/gesture"
	"github.com/musicviz/musicviz/internal/timeutil"
)

var t0 = time.Date(2026, 5, 1, 21, 0, 0, 0, time.UTC)

func TestParseKeyLine(t *testing.T) {
	cases := []struct {
		line    string
		want    gesture.KeyEvent
		ok      bool
		wantErr string
	}{
		{line: "f13 down", want: gesture.KeyEvent{Key: "f13", Pressed: true, At: t0}, ok: true},
		{line: "  f13   UP ", want: gesture.KeyEvent{Key: "f13", At: t0}, ok: true},
		{line: "a press", want: gesture.KeyEvent{Key: "a", Pressed: true, At: t0}, ok: true},
		{line: "a 0", want: gesture.KeyEvent{Key: "a", At: t0}, ok: true},
		{line: ""},
		{line: "# comment"},
		{line: "a", wantErr: "malformed"},
		{line: "a b c", wantErr: "malformed"},
		{line: "a sideways", wantErr: "unknown key action"},
	}
	for _, tc := range cases {
		ev, ok, err := parseKeyLine(tc.line, t0)
		if tc.wantErr != "" {
			assert.ErrorContains(t, err, tc.wantErr, tc.line)
			continue
		}
		require.NoError(t, err, tc.line)
		assert.Equal(t, tc.ok, ok, tc.line)
		assert.Equal(t, tc.want, ev, tc.line)
	}
}

func TestReadKeyEvents_SkipsBadLines(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	in := strings.NewReader("a down\nnonsense\n\nb up\n")
	events := make(chan gesture.KeyEvent, 4)

	require.NoError(t, readKeyEvents(context.Background(), in, clock, events))
	close(events)

	var got []gesture.KeyEvent
	for ev := range events {
		got = append(got, ev)
	}
	assert.Equal(t, []gesture.KeyEvent{
		{Key: "a", Pressed: true, At: t0},
		{Key: "b", At: t0},
	}, got)
}

type countingSink struct {
	mu       sync.Mutex
	finished []gesture.Observation
	resets   int
}

func (s *countingSink) Finish(obs gesture.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, obs)
}

func (s *countingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

func (s *countingSink) snapshot() ([]gesture.Observation, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gesture.Observation(nil), s.finished...), s.resets
}

func TestRunRecognizer_FinishesOnTick(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	sink := &countingSink{}
	rec := gesture.NewRecognizer(map[string]gesture.Sink{"f13": sink}, 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan gesture.KeyEvent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		runRecognizer(ctx, rec, clock, events)
	}()

	events <- gesture.KeyEvent{Key: "f13", Pressed: true, At: t0}
	events <- gesture.KeyEvent{Key: "f13", At: t0.Add(30 * time.Millisecond)}
	events <- gesture.KeyEvent{Key: "f13", Pressed: true, At: t0.Add(80 * time.Millisecond)}
	events <- gesture.KeyEvent{Key: "f13", At: t0.Add(110 * time.Millisecond)}

	require.Eventually(t, func() bool {
		clock.Advance(50 * time.Millisecond)
		finished, resets := sink.snapshot()
		return len(finished) == 1 && resets == 1
	}, 2*time.Second, 5*time.Millisecond)

	finished, _ := sink.snapshot()
	assert.Equal(t, gesture.Observation{Count: 2}, finished[0])
	assert.Equal(t, gesture.DoubleTap, gesture.Classify(finished[0]))

	cancel()
	<-done
}
