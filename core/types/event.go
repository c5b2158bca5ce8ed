package types

// Event represents a typed event emitted during state transitions. Events are
// the only durable record of some protocol objects, so attribute payloads must
// be complete enough to reconstruct them.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
