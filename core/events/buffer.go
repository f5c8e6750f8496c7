package events

import "sync"

// Buffer records events in emission order until they are flushed or dropped.
// Engines emit into a Buffer while a transaction executes so that nothing is
// observed downstream unless the transaction commits.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, evt)
	b.mu.Unlock()
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Truncate drops every event recorded after the first n.
func (b *Buffer) Truncate(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n < len(b.events) {
		b.events = b.events[:n]
	}
}

// Rewinder is an Emitter whose recorded events can be rolled back to an
// earlier length.
type Rewinder interface {
	Emitter
	Len() int
	Truncate(n int)
}

var _ Rewinder = (*Buffer)(nil)

// Events returns a copy of the buffered events.
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Flush forwards the buffered events to dst and clears the buffer.
func (b *Buffer) Flush(dst Emitter) {
	b.mu.Lock()
	pending := b.events
	b.events = nil
	b.mu.Unlock()
	if dst == nil {
		return
	}
	for _, evt := range pending {
		dst.Emit(evt)
	}
}

// Reset clears the buffer without forwarding anything.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

// Fanout delivers each event to every registered emitter.
type Fanout struct {
	mu       sync.RWMutex
	emitters []Emitter
}

// Add registers an emitter.
func (f *Fanout) Add(emitter Emitter) {
	if emitter == nil {
		return
	}
	f.mu.Lock()
	f.emitters = append(f.emitters, emitter)
	f.mu.Unlock()
}

// Emit implements the Emitter interface.
func (f *Fanout) Emit(evt Event) {
	f.mu.RLock()
	targets := append([]Emitter(nil), f.emitters...)
	f.mu.RUnlock()
	for _, emitter := range targets {
		emitter.Emit(evt)
	}
}
