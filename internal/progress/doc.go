// Package progress fans import progress out to HTTP observers.
//
// The import worker publishes progress/done/error events to the Broker; any
// number of SSE subscribers receive them in publish order. Snapshots are
// computed on demand from the job row and are never stored: a reconnecting
// client always starts from a snapshot frame, so missed live events are
// harmless. Counters cross the wire as strings because JavaScript numbers
// lose precision past 2^53.
package progress
