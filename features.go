package mq

import "github.com/solarmqtt/mq/internal/features"

// Capability flags of this build. TLS and threading can be compiled out
// with the mq_notls and mq_nothreads build tags; the others are not
// implemented.
const (
	TLSEnabled                = features.TLS
	ThreadingEnabled          = features.Threading
	BrokerModeEnabled         = features.BrokerMode
	WebsocketTransportEnabled = features.WebsocketTransport
	SocksProxyEnabled         = features.SocksProxy
	AsyncDNSEnabled           = features.AsyncDNS
)
