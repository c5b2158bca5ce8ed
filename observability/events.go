package observability

import (
	"rentchain/core/events"
	"rentchain/core/types"
)

// MetricsEmitter decorates an event emitter with protocol metrics: every
// rental lifecycle event passing through is counted before being forwarded.
type MetricsEmitter struct {
	next events.Emitter
}

// NewMetricsEmitter wraps the given emitter. A nil inner emitter makes the
// decorator terminal.
func NewMetricsEmitter(next events.Emitter) *MetricsEmitter {
	return &MetricsEmitter{next: next}
}

// Emit records the event and forwards it.
func (e *MetricsEmitter) Emit(evt events.Event) {
	if e == nil || evt == nil {
		return
	}
	switch evt.EventType() {
	case "rental.started":
		Rental().RecordStart(attr(evt, "kind"))
	case "rental.stopped":
		Rental().RecordStop(attr(evt, "kind"))
	case "escrow.settled":
		Rental().RecordSettlement(attr(evt, "mode"))
	}
	if e.next != nil {
		e.next.Emit(evt)
	}
}

type eventCarrier interface {
	Event() *types.Event
}

func attr(evt events.Event, key string) string {
	carrier, ok := evt.(eventCarrier)
	if !ok {
		return "unknown"
	}
	payload := carrier.Event()
	if payload == nil {
		return "unknown"
	}
	if value := payload.Attributes[key]; value != "" {
		return value
	}
	return "unknown"
}
