//go:build !mq_nothreads

package features

// Threading reports whether the engine may own a background loop goroutine.
const Threading = true
