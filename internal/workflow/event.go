package workflow

import "time"

// Event is emitted exactly once per committed transition.
type Event struct {
	Kind       Kind              `json:"entity_kind"`
	EntityID   string            `json:"entity_id"`
	Op         Op                `json:"op"`
	From       string            `json:"from_status"`
	To         string            `json:"to_status"`
	ActorID    string            `json:"actor_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Publisher receives committed transition events.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})
