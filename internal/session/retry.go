package session

import (
	"math"
	"time"
)

// RetryPolicy controls retransmission of unacknowledged QoS 1/2 packets.
type RetryPolicy struct {
	// Interval is the wait before the first retransmission.
	Interval time.Duration

	// Backoff multiplies the wait after each retransmission. Values
	// of 1 or less keep the interval fixed.
	Backoff float64

	// MaxInterval caps the backed-off wait. Zero means no cap.
	MaxInterval time.Duration

	// MaxRetries is the number of retransmissions before the exchange is
	// dropped with ErrDeliveryFailed. A negative value retries forever.
	MaxRetries int
}

// DefaultRetryPolicy retransmits after 10s, doubling up to 2 minutes, and
// gives up after 5 attempts.
var DefaultRetryPolicy = RetryPolicy{
	Interval:    10 * time.Second,
	Backoff:     2,
	MaxInterval: 2 * time.Minute,
	MaxRetries:  5,
}

// wait returns how long to wait after the given number of retransmissions.
func (p RetryPolicy) wait(retries int) time.Duration {
	d := p.Interval
	if p.Backoff > 1 {
		f := float64(d)
		for range retries {
			f *= p.Backoff
			if p.MaxInterval > 0 && f >= float64(p.MaxInterval) {
				return p.MaxInterval
			}
			if f >= float64(math.MaxInt64/2) {
				return math.MaxInt64 / 2
			}
		}
		d = time.Duration(f)
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		d = p.MaxInterval
	}
	return d
}

// exhausted reports whether another retransmission is not allowed.
func (p RetryPolicy) exhausted(retries int) bool {
	return p.MaxRetries >= 0 && retries >= p.MaxRetries
}
