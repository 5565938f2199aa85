package stream

import "strings"

// The transcoder offers no structured status API, so health is inferred from
// substring matches against its diagnostic output. Failure markers are checked
// before startup markers: when one buffer carries both (a connection that
// opens and immediately dies), the error must win.

// startupMarkers appear on stderr once ffmpeg has connected to the source and
// begun producing output.
var startupMarkers = []string{
	"Opening",
	"Stream mapping",
	"Output #0",
}

// failureMarkers cover the common unrecoverable source failures: refused
// connections, timeouts, and unusable input data.
var failureMarkers = []string{
	"Connection refused",
	"timed out",
	"Invalid data found",
}

// SourceUnreachableMessage is the user-visible message for classified source
// failures. Raw ffmpeg diagnostics are logged, not surfaced to API callers.
const SourceUnreachableMessage = "cannot connect to stream source"

// Classify maps a chunk of transcoder diagnostic output and the session's
// current status to a status transition. ok is false when the chunk implies
// no transition: unrecognized output, a startup marker on an already-active
// session, or any marker after the session has entered error state.
func Classify(output string, current Status) (next Status, message string, ok bool) {
	for _, marker := range failureMarkers {
		if strings.Contains(output, marker) {
			if current == StatusError {
				return "", "", false
			}
			return StatusError, SourceUnreachableMessage, true
		}
	}

	for _, marker := range startupMarkers {
		if strings.Contains(output, marker) {
			if current != StatusPending {
				return "", "", false
			}
			return StatusActive, "", true
		}
	}

	return "", "", false
}
