package service

import "sync"

// EventType defines the type of event
type EventType string

const (
	EventPeripheralCreated EventType = "peripheral_created"
	EventPeripheralUpdated EventType = "peripheral_updated"
	EventPeripheralRemoved EventType = "peripheral_removed"
	EventOperationFailed   EventType = "operation_failed"
	EventCycleCompleted    EventType = "cycle_completed"
	EventProbeFailed       EventType = "probe_failed"
)

// Event represents an event that occurred in the system
type Event struct {
	Type    EventType   `json:"type"`
	CycleID string      `json:"cycle_id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventBus allows publishing and subscribing to events
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan<- Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make([]chan<- Event, 0),
	}
}

// Subscribe adds a subscriber to receive events
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers = append(eb.subscribers, ch)
}

// Publish sends an event to all subscribers. A nil bus drops the event.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}

// operationEvent maps a committed result to the event announcing it
func operationEvent(cycleID string, r operationOutcome) Event {
	ev := Event{CycleID: cycleID, Payload: r}
	switch {
	case r.Error != "":
		ev.Type = EventOperationFailed
	case r.Kind == "create":
		ev.Type = EventPeripheralCreated
	case r.Kind == "update":
		ev.Type = EventPeripheralUpdated
	default:
		ev.Type = EventPeripheralRemoved
	}
	return ev
}

// operationOutcome is the wire form of an operation result
type operationOutcome struct {
	Kind     string `json:"kind"`
	Identity string `json:"identity"`
	RemoteID string `json:"remote_id,omitempty"`
	Error    string `json:"error,omitempty"`
}
