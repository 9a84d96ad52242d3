package live

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/farmdepot-ng/voicelink/pkg/live/protocol"
)

// Message is one entry in the conversation log. While a turn is open its Text
// is rewritten in place as partials arrive; once frozen it never changes.
type Message struct {
	ID        string
	Role      protocol.Role
	Text      string
	Seq       int
	Timestamp time.Time

	frozen bool
}

// Open reports whether the message can still be rewritten by new partials.
func (m Message) Open() bool { return !m.frozen }

// TranscriptAggregator merges incremental partial transcripts into a stable
// ordered message log. It holds one cumulative buffer per role for the
// currently open turn; the log's last message of a role mirrors that buffer
// until the turn completes.
//
// Only the aggregator mutates message text. The log never contains two
// consecutive open entries of the same role.
type TranscriptAggregator struct {
	mu       sync.Mutex
	messages []Message
	buffers  map[protocol.Role]*strings.Builder

	onUpdate func()
}

// NewTranscriptAggregator creates an empty aggregator.
func NewTranscriptAggregator() *TranscriptAggregator {
	return &TranscriptAggregator{
		buffers: map[protocol.Role]*strings.Builder{
			protocol.RoleUser:  {},
			protocol.RoleAgent: {},
		},
	}
}

// SetUpdateFunc registers a callback fired after every log mutation.
// Must be set before the aggregator is shared.
func (a *TranscriptAggregator) SetUpdateFunc(fn func()) {
	a.onUpdate = fn
}

// OnPartial appends a transcript fragment to the role's turn buffer and
// upserts the log: the last message is rewritten if it is this role's open
// turn, otherwise a new open message is appended.
func (a *TranscriptAggregator) OnPartial(role protocol.Role, text string) {
	a.mu.Lock()
	buf, ok := a.buffers[role]
	if !ok {
		a.mu.Unlock()
		return
	}
	buf.WriteString(text)
	full := buf.String()

	if n := len(a.messages); n > 0 && a.messages[n-1].Role == role && !a.messages[n-1].frozen {
		// The buffer already holds the whole turn: replace, don't append.
		a.messages[n-1].Text = full
	} else {
		a.messages = append(a.messages, Message{
			ID:        uuid.NewString(),
			Role:      role,
			Text:      full,
			Seq:       len(a.messages),
			Timestamp: time.Now(),
		})
	}
	a.mu.Unlock()

	a.notify()
}

// OnTurnComplete freezes both roles' open messages and empties both buffers.
// This is the only way an open message becomes immutable.
func (a *TranscriptAggregator) OnTurnComplete() {
	a.mu.Lock()
	for i := range a.messages {
		a.messages[i].frozen = true
	}
	for _, buf := range a.buffers {
		buf.Reset()
	}
	a.mu.Unlock()

	a.notify()
}

// AppendUser records a discrete, already-complete user message (typed text or
// a language-switch label).
func (a *TranscriptAggregator) AppendUser(text string) {
	a.mu.Lock()
	a.messages = append(a.messages, Message{
		ID:        uuid.NewString(),
		Role:      protocol.RoleUser,
		Text:      text,
		Seq:       len(a.messages),
		Timestamp: time.Now(),
		frozen:    true,
	})
	a.mu.Unlock()

	a.notify()
}

// Clear empties the log and both buffers.
func (a *TranscriptAggregator) Clear() {
	a.mu.Lock()
	a.messages = nil
	for _, buf := range a.buffers {
		buf.Reset()
	}
	a.mu.Unlock()

	a.notify()
}

// Messages returns a snapshot of the log in order.
func (a *TranscriptAggregator) Messages() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// TurnOpen reports whether the role has an open (unfrozen) message.
func (a *TranscriptAggregator) TurnOpen(role protocol.Role) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.messages) - 1; i >= 0; i-- {
		if a.messages[i].Role == role {
			return !a.messages[i].frozen
		}
	}
	return false
}

func (a *TranscriptAggregator) notify() {
	if a.onUpdate != nil {
		a.onUpdate()
	}
}
