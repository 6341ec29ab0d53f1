package dns

import (
	"errors"
)

var (
	// ErrFormat indicates that a datagram is not a well-formed message: it is shorter than a
	// header, a section runs past the end of the data, or a count claims more entries than are
	// present.
	ErrFormat = errors.New("codec: malformed message")

	// ErrCountMismatch indicates a message whose header counts disagree with its section lengths.
	ErrCountMismatch = errors.New("codec: header count does not match section length")
)
