// Package spec contains constants defined by the wsprobe protocol.
package spec

import "time"

// ProbeURLPath selects the probe endpoint.
const ProbeURLPath = "/wsprobe/v1/probe"

// SecWebSocketProtocol is the WebSocket subprotocol used by wsprobe.
const SecWebSocketProtocol = "net.wsprobe.v1"

// MaxMessageSize is the maximum size of a message accepted by the probe
// endpoint. The payloads exchanged by wsprobe are tiny, so anything larger
// indicates a confused client.
const MaxMessageSize = 1 << 12

// MinInterval is the minimum interval between ticks.
const MinInterval = 100 * time.Millisecond

// DefaultInterval is the interval between ticks unless configured otherwise.
const DefaultInterval = time.Second

// NoData is the display value used before the first completed round trip
// and after a sample has been invalidated.
const NoData = "no data yet"
