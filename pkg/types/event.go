package types

// kind of notification delivered by the coordination client
type EventType uint

const (
	EventSession EventType = iota + 1
	EventNodeCreated
	EventNodeDeleted
	EventNodeDataChanged
	EventNotWatching //watch dropped because the session ended
)

func (t EventType) String() string {
	switch t {
	case EventSession:
		return "session"
	case EventNodeCreated:
		return "node-created"
	case EventNodeDeleted:
		return "node-deleted"
	case EventNodeDataChanged:
		return "node-data-changed"
	case EventNotWatching:
		return "not-watching"
	default:
		return "unknown"
	}
}

// session state as seen by the client
type State uint

const (
	StateUnknown State = iota
	StateDisconnected
	StateConnecting
	StateConnected //session established, ready for use
	StateExpired
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateExpired:
		return "expired"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// an asynchronous notification from the coordination client
// session events carry State, node events carry Path,
// not-watching events carry both Path and the Err that ended the watch
type Event struct {
	Type  EventType
	State State
	Path  string
	Err   error
}
