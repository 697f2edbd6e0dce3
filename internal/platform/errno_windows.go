//go:build windows

package platform

import (
	"errors"
	"syscall"
)

// Winsock error numbers.
const (
	wsaeconnaborted = syscall.Errno(10053)
	wsaeconnreset   = syscall.Errno(10054)
	wsaetimedout    = syscall.Errno(10060)
	wsaeconnrefused = syscall.Errno(10061)
	wsaenetunreach  = syscall.Errno(10051)
	wsaehostunreach = syscall.Errno(10065)
)

func errnoKind(err error) Kind {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return Other
	}
	switch errno {
	case wsaeconnrefused:
		return Refused
	case wsaeconnreset, wsaeconnaborted:
		return Reset
	case wsaenetunreach, wsaehostunreach:
		return Unreachable
	case wsaetimedout:
		return Timeout
	}
	return Other
}
