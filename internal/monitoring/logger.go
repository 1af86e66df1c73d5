package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose enables or disables Debugf output.
func SetVerbose(on bool) {
	verbose.Store(on)
}

// Debugf logs through Logf only when verbose output is enabled. It is used on
// per-report and per-key paths that would otherwise flood the log.
func Debugf(format string, v ...interface{}) {
	if !verbose.Load() {
		return
	}
	Logf("[debug] "+format, v...)
}
