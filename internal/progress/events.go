package progress

import (
	"strconv"
	"time"
)

// EventType discriminates the JSON objects sent over the SSE stream.
type EventType string

const (
	EventSnapshot  EventType = "snapshot"
	EventProgress  EventType = "progress"
	EventDone      EventType = "done"
	EventError     EventType = "error"
	EventHeartbeat EventType = "heartbeat"
)

// Event is anything the broker can fan out. Kind drives delivery guarantees:
// progress may be dropped for a slow subscriber, done/error never.
type Event interface {
	Kind() EventType
}

// ProgressEvent is published after every admitted checkpoint write.
type ProgressEvent struct {
	Type          EventType `json:"type"`
	JobID         string    `json:"jobId"`
	RowsProcessed string    `json:"rowsProcessed"`
	RowsInserted  string    `json:"rowsInserted"`
	BytesRead     string    `json:"bytesRead"`
	Rate          float64   `json:"rateRowsPerSec"`
	ElapsedSec    int64     `json:"elapsedSec"`
	LastRowHash   string    `json:"lastRowHash,omitempty"`
	TS            string    `json:"ts"`
}

func (ProgressEvent) Kind() EventType { return EventProgress }

// NewProgressEvent string-encodes the 64-bit counters for the wire.
func NewProgressEvent(jobID string, rowsProcessed, rowsInserted, bytesRead int64, rate float64, elapsedSec int64, lastRowHash string) ProgressEvent {
	return ProgressEvent{
		Type:          EventProgress,
		JobID:         jobID,
		RowsProcessed: strconv.FormatInt(rowsProcessed, 10),
		RowsInserted:  strconv.FormatInt(rowsInserted, 10),
		BytesRead:     strconv.FormatInt(bytesRead, 10),
		Rate:          rate,
		ElapsedSec:    elapsedSec,
		LastRowHash:   lastRowHash,
		TS:            time.Now().UTC().Format(time.RFC3339),
	}
}

// DoneEvent signals a COMPLETED import.
type DoneEvent struct {
	Type  EventType `json:"type"`
	JobID string    `json:"jobId"`
	TS    string    `json:"ts"`
}

func (DoneEvent) Kind() EventType { return EventDone }

func NewDoneEvent(jobID string) DoneEvent {
	return DoneEvent{Type: EventDone, JobID: jobID, TS: time.Now().UTC().Format(time.RFC3339)}
}

// ErrorEvent signals a FAILED import.
type ErrorEvent struct {
	Type  EventType `json:"type"`
	JobID string    `json:"jobId"`
	Error string    `json:"error"`
	TS    string    `json:"ts"`
}

func (ErrorEvent) Kind() EventType { return EventError }

func NewErrorEvent(jobID, msg string) ErrorEvent {
	return ErrorEvent{Type: EventError, JobID: jobID, Error: msg, TS: time.Now().UTC().Format(time.RFC3339)}
}

// HeartbeatEvent keeps idle SSE connections alive through proxies.
type HeartbeatEvent struct {
	Type EventType `json:"type"`
	TS   string    `json:"ts"`
}

func (HeartbeatEvent) Kind() EventType { return EventHeartbeat }

func NewHeartbeatEvent(now time.Time) HeartbeatEvent {
	return HeartbeatEvent{Type: EventHeartbeat, TS: now.UTC().Format(time.RFC3339)}
}
