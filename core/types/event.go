package types

// Event represents a typed event emitted during state transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Clone copies the attribute map so the event can cross goroutines safely.
func (e Event) Clone() Event {
	attrs := make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	return Event{Type: e.Type, Attributes: attrs}
}
