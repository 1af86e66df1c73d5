// Package gesture recognizes multi-stage tap gestures on tap-dance keys
// and fires the virtual key combination bound to each gesture class.
//
// Timing (counting taps, spotting interruptions, the tapping term) lives in
// Recognizer. Classification is the pure function Classify. Each key owns an
// Engine, driven through a Runner goroutine so that a finish and its reset
// are never reordered.
package gesture

import "fmt"

// Class is the outcome of a completed tap sequence.
type Class uint8

const (
	None Class = iota
	SingleTap
	SingleHold
	DoubleTap
	DoubleHold
	DoubleSingleTap
	MoreTaps
)

var classNames = [...]string{
	None:            "none",
	SingleTap:       "single_tap",
	SingleHold:      "single_hold",
	DoubleTap:       "double_tap",
	DoubleHold:      "double_hold",
	DoubleSingleTap: "double_single_tap",
	MoreTaps:        "more_taps",
}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// ParseClass is the inverse of String.
func ParseClass(s string) (Class, error) {
	for i, name := range classNames {
		if name == s {
			return Class(i), nil
		}
	}
	return None, fmt.Errorf("gesture: unknown class %q", s)
}

func (c Class) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Class) UnmarshalText(text []byte) error {
	v, err := ParseClass(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Observation is the terminal state of a tap sequence as seen by the
// recognizer when it decides the gesture is over.
type Observation struct {
	Count       int  `json:"count"`
	Pressed     bool `json:"pressed"`
	Interrupted bool `json:"interrupted"`
}

// Classify maps an observation to its class. An interruption wins over the
// hold/tap distinction at the same count. Counts of three or more, and the
// count zero the recognizer never produces, are MoreTaps.
func Classify(obs Observation) Class {
	switch obs.Count {
	case 1:
		if obs.Interrupted || !obs.Pressed {
			return SingleTap
		}
		return SingleHold
	case 2:
		if obs.Interrupted {
			return DoubleSingleTap
		}
		if obs.Pressed {
			return DoubleHold
		}
		return DoubleTap
	}
	return MoreTaps
}
