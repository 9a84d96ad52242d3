// Package channel defines the opaque bidirectional streaming boundary to the
// remote conversational agent. The session pipeline depends only on these
// interfaces; concrete transports live in subpackages.
package channel

import (
	"context"
	"errors"

	"github.com/farmdepot-ng/voicelink/pkg/live/protocol"
)

// ErrClosed is returned by Send and Receive after the channel has been
// closed, locally or by the remote side.
var ErrClosed = errors.New("channel closed")

// ToolDeclaration advertises one callable operation to the agent. All
// parameters are strings; Required lists the ones the agent must supply.
type ToolDeclaration struct {
	Name     string
	Required []string
}

// Config carries everything a transport needs to open a conversation.
type Config struct {
	Model             string
	SystemInstruction string
	Voice             string
	LanguageCode      string
	Tools             []ToolDeclaration

	// InputFormat is the client→agent audio shape.
	InputFormat protocol.AudioFormat
	// OutputFormat is the agent→client audio shape.
	OutputFormat protocol.AudioFormat
}

// Channel is one live bidirectional conversation. Send and Receive may be
// used concurrently with each other; neither may be called concurrently with
// itself. Close is idempotent and unblocks a pending Receive.
type Channel interface {
	Send(ev protocol.ClientEvent) error
	Receive() (protocol.ServerEvent, error)
	Close() error
}

// Dialer opens channels. Dial blocks until the conversation is established
// or ctx ends.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Channel, error)
}
