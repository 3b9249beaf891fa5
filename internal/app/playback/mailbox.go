package playback

import "sync"

// statusMailbox coalesces engine status reports until the manager loop
// picks them up. put never blocks the engine's goroutine.
type statusMailbox struct {
	mu      sync.Mutex
	pending map[Handle]Status
	ready   chan struct{}
}

func newStatusMailbox() *statusMailbox {
	return &statusMailbox{
		pending: make(map[Handle]Status),
		ready:   make(chan struct{}, 1),
	}
}

// put records the latest status for h. Finished is sticky until taken.
func (b *statusMailbox) put(h Handle, st Status) {
	b.mu.Lock()
	if prev, ok := b.pending[h]; ok && prev.Finished {
		st.Finished = true
	}
	b.pending[h] = st
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// take drains all pending reports.
func (b *statusMailbox) take() map[Handle]Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.pending
	b.pending = make(map[Handle]Status)
	return out
}

// eventQueue buffers published events for the pump goroutine. Consecutive
// position events that have not been delivered yet collapse into the newest
// one; every other event is kept, so state transitions are never lost to a
// slow consumer.
type eventQueue struct {
	mu      sync.Mutex
	pending []Event
	ready   chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		ready: make(chan struct{}, 1),
	}
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	if n := len(q.pending); n > 0 && ev.Type == EventPositionChanged && q.pending[n-1].Type == EventPositionChanged {
		q.pending[n-1] = ev
	} else {
		q.pending = append(q.pending, ev)
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// take drains all pending events in publish order.
func (q *eventQueue) take() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.pending
	q.pending = nil
	return out
}

// size reports the number of undelivered events.
func (q *eventQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
