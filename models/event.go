package models

import "time"

// EventType is the device's EventType code.
type EventType int

const (
	EventPageTurns     EventType = 46
	EventSessionStarts EventType = 1020
	EventSessionEnds   EventType = 1021
)

// Event is one row of the device's Event table for a content id.
type Event struct {
	Type       EventType
	RawPayload []byte
	// Count is only meaningful for EventPageTurns.
	Count      int
	Timestamps []time.Time
}

// Events holds at most one event per type for a book.
type Events map[EventType]Event
