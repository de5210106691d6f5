package relay

// EventType names an outbound event. The vocabulary is closed.
type EventType string

const (
	EventSession   EventType = "session"
	EventToken     EventType = "token"
	EventCompanies EventType = "companies"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// doneData is the payload of the done event.
const doneData = "done"

// Event is one outbound event. Data is the raw session id, token text,
// JSON array of cards, "done", or the error message.
type Event struct {
	Type EventType
	Data string
}

// Terminal reports whether ev ends an invocation.
func (ev Event) Terminal() bool {
	return ev.Type == EventDone || ev.Type == EventError
}
