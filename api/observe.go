package api

// EventType enumerates handle lifecycle transitions.
type EventType uint8

const (
	// EventOpened fires when a fresh entity is appended to the open queue.
	EventOpened EventType = iota
	// EventClosed fires when an entity moves from the open to the closed queue.
	EventClosed
	// EventFreed fires when the recycling policy releases an entity.
	EventFreed
	// EventRecycled fires when Open reuses the oldest closed entity in place.
	EventRecycled
	// EventFault fires on a detected usage fault.
	EventFault
)

func (t EventType) String() string {
	switch t {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventFreed:
		return "freed"
	case EventRecycled:
		return "recycled"
	case EventFault:
		return "fault"
	}
	return "unknown"
}

// Event describes one handle lifecycle transition. Handle and Underlying are
// raw representations; the core package owns the typed views.
type Event struct {
	Type       EventType
	Session    string
	Handle     uint64
	Underlying uint64
	Generation int64
	Detail     string
}

// Observer receives lifecycle events. Callbacks run synchronously on the
// mutating goroutine while the session lock is held and must not call back
// into the session.
type Observer interface {
	OnHandleEvent(Event)
}
