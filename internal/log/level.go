//go:generate go run golang.org/x/tools/cmd/stringer -type=Level -linecomment=true

package log

import (
	"strings"
)

// Level parametrizes supported log verbosity levels.
type Level int

const (
	// Debug messages trace individual datagrams through the relay.
	Debug Level = iota // DEBUG
	// Info messages convey lifecycle events such as startup, sweeps, and shutdown.
	Info // INFO
	// Warn messages describe non-erroring divergences from the ideal code path, like an ID
	// collision or a dropped oversized datagram.
	Warn // WARN
	// Error messages indicate a datagram that could not be served.
	Error // ERROR
)

// knownLevels lists every level in increasing order of severity.
var knownLevels = []Level{Debug, Info, Warn, Error}

// ParseLevel looks up a Level constant by its stringified (case-insensitive) representation. An
// unknown level parses as Error, with ok set to false.
func ParseLevel(level string) (Level, bool) {
	for _, knownLevel := range knownLevels {
		if strings.EqualFold(level, knownLevel.String()) {
			return knownLevel, true
		}
	}

	return Error, false
}

// Enables indicates whether the current log level enables logging at another level.
//
// For example,
//	Debug enables Debug, Info, Warn, and Error
//	Info enables Warn and Error, but not Debug
//	Error enables Error, but not Debug, Info, or Warn
func (l Level) Enables(other Level) bool {
	return l <= other
}
