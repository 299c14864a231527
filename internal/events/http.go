// Package events declares the payloads published on the event bus by the
// HTTP server, the executors, the loaders and the subscription handler.
// Subscribers receive the publishing request's context alongside them.
package events

import (
	"net/http"
	"time"
)

// HTTPStart marks the arrival of a GraphQL request over plain HTTP.
// WebSocket upgrades do not produce it.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish follows every HTTPStart once the response is written.
// Operations is the number of GraphQL operations the body carried; it is
// zero when the request was rejected before parsing finished.
type HTTPFinish struct {
	Request    *http.Request
	Status     int
	Operations int
	Duration   time.Duration
}
