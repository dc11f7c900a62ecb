// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ScoringDial caps the wait time when establishing a connection to the
// scoring service.
const ScoringDial = 2 * time.Second

// ScoringRequest caps the time allowed for a single scoring request.
// Retry budgets are layered on top by the caller.
const ScoringRequest = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// StreamWrite limits how long a websocket write may block before the
// connection is considered dead.
const StreamWrite = 10 * time.Second

// StreamPong limits how long the server waits for a pong before it
// declares a stream connection dead.
const StreamPong = 60 * time.Second

// StreamPing is the interval between keepalive pings on a stream
// connection. It must be shorter than StreamPong.
const StreamPing = 30 * time.Second
