// Package rlog is the pipeline's leveled-logging shim. It thins
// v.io/x/lib/vlog down to the handful of call shapes the pipeline
// actually uses, so that packages log the way the rest of the codebase
// does without every file importing vlog directly.
package rlog

import "v.io/x/lib/vlog"

// Debugf logs a verbose diagnostic, gated behind vlog's verbosity level 1.
func Debugf(format string, args ...interface{}) {
	vlog.VI(1).Infof(format, args...)
}

// Infof logs at normal verbosity.
func Infof(format string, args ...interface{}) {
	vlog.Infof(format, args...)
}

// Errorf logs a recoverable error.
func Errorf(format string, args ...interface{}) {
	vlog.Errorf(format, args...)
}

// Fatalf logs and aborts the process. Reserved for invariant violations
// that indicate a bug in the pipeline itself, never for data-dependent
// faults (those flow through the fault package instead).
func Fatalf(format string, args ...interface{}) {
	vlog.Fatalf(format, args...)
}

// Sink receives diagnostic records for conditions the pipeline tolerates
// but still reports. The only event reported is "bad_batch", from the
// decode pool under bad_batch_handling=warn; discarded non-data records
// and resynchronised framing faults are neither counted nor reported.
// Callers pass their own Sink to pipeline.New to route these into their
// own telemetry; a nil Sink disables reporting.
type Sink interface {
	Report(event string, fields map[string]interface{})
}

// DefaultSink logs through rlog.Infof.
type DefaultSink struct{}

// Report implements Sink.
func (DefaultSink) Report(event string, fields map[string]interface{}) {
	vlog.Infof("%s: %+v", event, fields)
}
