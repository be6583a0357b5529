package zone

import "log"

// Logf emits the package's diagnostic output: reconcile failures, hide and
// display errors, subscriber panics, event traces. It defaults to
// log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf and returns the previous logger so callers can
// restore it. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) (prev func(format string, v ...interface{})) {
	prev = Logf
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	Logf = f
	return prev
}
