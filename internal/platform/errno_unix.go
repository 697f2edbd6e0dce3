//go:build !windows

package platform

import (
	"errors"
	"syscall"
)

func errnoKind(err error) Kind {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return Other
	}
	switch errno {
	case syscall.ECONNREFUSED:
		return Refused
	case syscall.ECONNRESET, syscall.ECONNABORTED, syscall.EPIPE:
		return Reset
	case syscall.ENETUNREACH, syscall.EHOSTUNREACH:
		return Unreachable
	case syscall.ETIMEDOUT:
		return Timeout
	}
	return Other
}
