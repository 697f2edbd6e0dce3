package mq

import (
	"context"
	"sync"
)

// Token represents an asynchronous operation that can be waited on.
//
// Publish, Subscribe, Unsubscribe and Connect return tokens. A token
// completes once: with nil on acknowledgment, or with the error that ended
// the operation (a negative acknowledgment, ErrDeliveryFailed after the
// retry ceiling, or a lost connection on a clean session).
//
// In cooperative mode (no Start), tokens only make progress while Step is
// being called; waiting on one without stepping blocks until ctx expires.
//
//	tok := client.Publish("sensors/temp", []byte("22.5"), mq.WithQoS(1))
//	if err := tok.Wait(ctx); err != nil {
//	    log.Printf("publish failed: %v", err)
//	}
type Token interface {
	// Wait blocks until the operation completes or ctx is done.
	Wait(ctx context.Context) error

	// Done returns a channel that closes when the operation is complete.
	Done() <-chan struct{}

	// Error returns the result once Done is closed.
	Error() error
}

type token struct {
	done chan struct{}
	err  error
	once sync.Once
}

func newToken() *token {
	return &token{done: make(chan struct{})}
}

// failedToken returns a token that is already complete with err.
func failedToken(err error) *token {
	t := newToken()
	t.Complete(err)
	return t
}

func (t *token) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *token) Done() <-chan struct{} {
	return t.done
}

func (t *token) Error() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Complete marks the token as complete with err. Later calls are ignored.
func (t *token) Complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}
