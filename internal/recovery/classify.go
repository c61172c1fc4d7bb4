// Package recovery turns raised cycle errors into a boolean: repaired
// or not. It classifies the error, optionally asks the reasoning
// service for a repair plan in a closed verb vocabulary, runs the plan
// under a deadline, and falls back to an environment reset. It never
// raises; every path resolves to true or false.
package recovery

import "strings"

// Class is the error taxonomy the supervisor acts on.
type Class int

const (
	// ClassFatal means the environment connection is permanently gone.
	// No repair is attempted and the run terminates.
	ClassFatal Class = iota
	// ClassTransient is a pure transport failure. Repair synthesis is
	// skipped; only the reset fallback runs.
	ClassTransient
	// ClassRecoverableUnknown is everything else; the full synthesis
	// path is attempted.
	ClassRecoverableUnknown
)

func (c Class) String() string {
	switch c {
	case ClassFatal:
		return "fatal"
	case ClassTransient:
		return "transient"
	default:
		return "recoverable"
	}
}

// fatalMarkers identify a permanently lost environment. Matching is
// case-insensitive substring on the error text.
var fatalMarkers = []string{
	"target closed",
	"session closed",
	"browser has been closed",
	"connection is closed",
	"websocket: close",
}

// transientMarkers identify transport-level failures that a repair plan
// cannot help with.
var transientMarkers = []string{
	"net::err",
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"tls handshake",
}

// Classify maps an error to its class by signature matching.
func Classify(err error) Class {
	if err == nil {
		return ClassRecoverableUnknown
	}
	msg := strings.ToLower(err.Error())
	for _, m := range fatalMarkers {
		if strings.Contains(msg, m) {
			return ClassFatal
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return ClassTransient
		}
	}
	return ClassRecoverableUnknown
}

// IsFatal is the supervisor's short-circuit check; a fatal error ends
// the run before the recovery agent is ever consulted.
func IsFatal(err error) bool {
	return err != nil && Classify(err) == ClassFatal
}
