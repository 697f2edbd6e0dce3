//go:build !mq_notls

package features

// TLS reports whether TLS transports are compiled in.
const TLS = true
