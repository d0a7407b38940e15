package parser

import (
	"fmt"

	"github.com/aluiziolira/kobo-stats/models"
)

// NewEvent builds an event from a raw Event row. Session events get their
// timestamps decoded; on a decode failure the event is still returned, with
// no timestamps, together with the error.
func NewEvent(eventType models.EventType, payload []byte, count int) (models.Event, error) {
	ev := models.Event{
		Type:       eventType,
		RawPayload: payload,
		Count:      count,
	}
	if eventType == models.EventPageTurns {
		return ev, nil
	}

	decoded, err := DecodeExtraData(payload)
	if err != nil {
		return ev, fmt.Errorf("decode event %d: %w", eventType, err)
	}
	ev.Timestamps = decoded.Times()
	return ev, nil
}
