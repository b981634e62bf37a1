package events

import "time"

type Kind string

type Event interface {
	Kind() Kind
	Timestamp() time.Time
	// Generation is the session token that was current when the event was
	// emitted.
	Generation() uint64
}

type Base struct {
	kind       Kind
	timestamp  time.Time
	generation uint64
}

type BaseOption func(*Base)

// WithGeneration stamps the event with the session token it belongs to.
func WithGeneration(generation uint64) BaseOption {
	return func(b *Base) { b.generation = generation }
}

func NewBase(kind Kind, opts ...BaseOption) Base {
	base := Base{kind: kind, timestamp: time.Now()}
	for _, opt := range opts {
		opt(&base)
	}
	return base
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}

func (b Base) Generation() uint64 {
	return b.generation
}
