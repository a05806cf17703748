// Package monitoring holds the process-wide diagnostic logger. The core
// packages log anomalies only (dropped packets, planner fallbacks); hot-path
// code must not log per frame.
package monitoring

import "log"

// Logf writes a diagnostic line. It defaults to log.Printf and can be
// swapped out with SetLogger; tests typically mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil argument installs a no-op
// logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
