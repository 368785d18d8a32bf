// Package monitoring is the diagnostic log shared by the motion core, the
// controller transport and the journal.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf receives lifecycle messages: rejected requests, failed moves, link
// loss. It is log.Printf until SetLogger replaces it.
var Logf func(format string, v ...any) = log.Printf

var verbose atomic.Bool

// SetLogger redirects Logf. nil mutes it.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		f = func(string, ...any) {}
	}
	Logf = f
}

// SetVerbose enables or disables Debugf output.
func SetVerbose(on bool) {
	verbose.Store(on)
}

// Verbose reports whether Debugf output is enabled.
func Verbose() bool {
	return verbose.Load()
}

// Debugf logs through Logf only when verbose output is enabled. Per-event
// traces (lock changes, stale completions, leg starts) go here.
func Debugf(format string, v ...any) {
	if verbose.Load() {
		Logf("[debug] "+format, v...)
	}
}
