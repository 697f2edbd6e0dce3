package packets

import (
	"errors"
	"fmt"
)

// ErrMalformed is matched by every decode error that makes the byte stream
// unusable. The connection that produced it must be closed.
var ErrMalformed = errors.New("malformed packet")

// ErrFieldTooLong is matched by encode errors for a string or binary field
// longer than MaxFieldLength. Nothing is written.
var ErrFieldTooLong = errors.New("field too long")

// ErrIncomplete is matched by *IncompleteError.
var ErrIncomplete = errors.New("incomplete packet")

// IncompleteError reports that the buffer ends before the packet does.
// Need is the minimum number of additional bytes required to make progress.
type IncompleteError struct {
	Need int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("incomplete packet: need %d more bytes", e.Need)
}

// Is reports whether target is ErrIncomplete.
func (e *IncompleteError) Is(target error) bool {
	return target == ErrIncomplete
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
}
