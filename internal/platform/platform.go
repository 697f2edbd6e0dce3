// Package platform isolates operating-system specific socket error
// handling from the rest of the client.
package platform

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
)

// Kind classifies a socket error.
type Kind int

const (
	Other Kind = iota
	Timeout
	Closed
	Refused
	Reset
	Unreachable
)

var kindNames = [...]string{"other", "timeout", "closed", "refused", "reset", "unreachable"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Classify maps err to a Kind. OS error numbers are resolved by the
// build-specific errnoKind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return Other
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return Closed
	}
	if k := errnoKind(err); k != Other {
		return k
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Timeout
	}
	return Other
}
