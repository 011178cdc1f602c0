package workflow

import "sync"

type EventKind int

const (
	EventFileSelected EventKind = iota
	EventParamsChanged
	EventSubmitted
	EventTick
	EventCompleted
	EventCleared
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventFileSelected:
		return "file_selected"
	case EventParamsChanged:
		return "params_changed"
	case EventSubmitted:
		return "submitted"
	case EventTick:
		return "tick"
	case EventCompleted:
		return "completed"
	case EventCleared:
		return "cleared"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind     EventKind
	Snapshot Snapshot
}

// Subscribe registers fn for every state change until the returned function
// is called. Events arrive in the order the changes happened. fn runs on
// the goroutine that made the change; it may read a Snapshot or unsubscribe
// but must not mutate the controller.
func (c *Controller) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	if !c.closed {
		c.listeners = append(c.listeners, listener{id: id, fn: fn})
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, l := range c.listeners {
				if l.id == id {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// unlockAndEmit must be called with c.mu held. It releases c.mu, waits for
// every earlier event to be delivered, then delivers this one.
func (c *Controller) unlockAndEmit(kind EventKind) {
	ev := Event{Kind: kind, Snapshot: c.snapshotLocked()}
	targets := make([]func(Event), len(c.listeners))
	for i, l := range c.listeners {
		targets[i] = l.fn
	}
	seq := c.emitNext
	c.emitNext++
	c.mu.Unlock()

	c.emitMu.Lock()
	for c.emitTurn != seq {
		c.emitCond.Wait()
	}
	c.emitMu.Unlock()

	for _, fn := range targets {
		fn(ev)
	}

	c.emitMu.Lock()
	c.emitTurn++
	c.emitCond.Broadcast()
	c.emitMu.Unlock()
}
