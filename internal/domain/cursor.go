package domain

import "time"

// Cursor is the persisted position in the remote event stream.
type Cursor struct {
	Service string

	// Position is the Jetstream time_us of the last handled event. Zero means
	// no position has been stored yet.
	Position int64

	LastRunAt time.Time

	// LastError is the error recorded by the most recent cycle, empty when
	// it succeeded.
	LastError string

	// EventsProcessed is the running total of events routed to a handler.
	EventsProcessed int64
}
