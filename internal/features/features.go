// Package features holds the build-time capability flags of the client
// core. Optional code paths consult these constants so that disabled
// capabilities compile down to an error return.
package features

// Capabilities that this core never provides.
const (
	BrokerMode         = false
	WebsocketTransport = false
	SocksProxy         = false
	AsyncDNS           = false
)
