package events

import "time"

// LoaderFlush is emitted after a loader invoked its batch function.
type LoaderFlush struct {
	Loader   string
	Keys     int
	Err      error
	Duration time.Duration
}
