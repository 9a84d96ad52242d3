package live

// Event is the interface for all session events delivered to the consumer
// (typically the embedding UI layer).
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// StateChangedEvent is emitted on every lifecycle transition.
type StateChangedEvent struct {
	From   SessionState `json:"from"`
	To     SessionState `json:"to"`
	Status string       `json:"status"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// MessagesChangedEvent is emitted whenever the transcript log mutates.
// Consumers re-read Session.Messages for the current snapshot.
type MessagesChangedEvent struct{}

func (e *MessagesChangedEvent) EventType() string { return "messages.changed" }

// SpeakingChangedEvent is emitted when agent speech starts or stops.
type SpeakingChangedEvent struct {
	Speaking bool `json:"speaking"`
}

func (e *SpeakingChangedEvent) EventType() string { return "speaking.changed" }

// ErrorEvent is emitted for session-fatal failures, after teardown.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "error" }
