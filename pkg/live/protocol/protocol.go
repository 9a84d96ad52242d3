// Package protocol defines the event vocabulary exchanged with the remote
// conversational agent over a live channel.
//
// Inbound (server) and outbound (client) events are tagged unions carried as
// JSON objects with a "type" discriminator. Transports that have a native
// event model (such as the Gemini Live API) translate to and from these types
// at the adapter boundary; the session pipeline only ever sees this
// vocabulary.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const ProtocolVersion1 = "1"

// Role identifies which side of the conversation a transcript belongs to.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// AudioFormat describes the shape of a PCM payload on the wire.
type AudioFormat struct {
	Encoding     string `json:"encoding"` // always "pcm_s16le"
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// DecodeError reports a payload that carried a known type tag but could not
// be decoded. Unknown type tags are not errors; they decode to a nil event.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badPayload(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_payload", Message: message, Param: param}
}

// ServerEvent is an event received from the remote agent.
type ServerEvent interface {
	EventType() string
	serverEvent()
}

// ClientEvent is an event sent to the remote agent.
type ClientEvent interface {
	EventType() string
	clientEvent()
}

// ServerAudio carries one chunk of synthesized agent speech.
// Data is raw little-endian PCM16 (base64 in the JSON form).
type ServerAudio struct {
	Data   []byte      `json:"data"`
	Format AudioFormat `json:"format"`
}

func (ServerAudio) EventType() string { return "audio" }
func (ServerAudio) serverEvent()      {}

// ServerTranscript carries one incremental transcript fragment for a role.
// Fragments are cumulative per turn: the aggregator concatenates them.
type ServerTranscript struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

func (ServerTranscript) EventType() string { return "transcript" }
func (ServerTranscript) serverEvent()      {}

// ServerTurnComplete signals that the current exchange finished; both open
// transcript turns freeze.
type ServerTurnComplete struct{}

func (ServerTurnComplete) EventType() string { return "turn_complete" }
func (ServerTurnComplete) serverEvent()      {}

// FunctionCall is one tool invocation requested by the agent.
type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ServerToolCall asks the client to execute one or more functions and answer
// each by id.
type ServerToolCall struct {
	Calls []FunctionCall `json:"calls"`
}

func (ServerToolCall) EventType() string { return "tool_call" }
func (ServerToolCall) serverEvent()      {}

// ServerError reports a channel-level fault. Session-fatal.
type ServerError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (ServerError) EventType() string { return "error" }
func (ServerError) serverEvent()      {}

// ServerClose signals an orderly shutdown by the remote side.
type ServerClose struct {
	Reason string `json:"reason,omitempty"`
}

func (ServerClose) EventType() string { return "close" }
func (ServerClose) serverEvent()      {}

// ClientAudio carries one captured microphone frame.
type ClientAudio struct {
	Data   []byte      `json:"data"`
	Format AudioFormat `json:"format"`
}

func (ClientAudio) EventType() string { return "audio" }
func (ClientAudio) clientEvent()      {}

// ClientText is a directive: greeting, language switch, or free-form chat.
type ClientText struct {
	Text string `json:"text"`
}

func (ClientText) EventType() string { return "text" }
func (ClientText) clientEvent()      {}

// ClientToolResult answers exactly one ServerToolCall function by id.
type ClientToolResult struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Result string `json:"result"`
}

func (ClientToolResult) EventType() string { return "tool_result" }
func (ClientToolResult) clientEvent()      {}

type envelope struct {
	Type string `json:"type"`
}

type serverAudioWire struct {
	Type   string      `json:"type"`
	Data   []byte      `json:"data"`
	Format AudioFormat `json:"format"`
}

type serverTranscriptWire struct {
	Type string `json:"type"`
	Role Role   `json:"role"`
	Text string `json:"text"`
}

type serverToolCallWire struct {
	Type  string         `json:"type"`
	Calls []FunctionCall `json:"calls"`
}

type serverErrorWire struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type serverCloseWire struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// DecodeServerEvent parses one inbound JSON payload. Unknown type tags yield
// (nil, nil) so transports can skip them; a known tag with a bad body yields
// a *DecodeError.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, badPayload("payload is not a JSON event", "")
	}

	switch env.Type {
	case "audio":
		var w serverAudioWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, badPayload("invalid audio event", "data")
		}
		if len(w.Data) == 0 {
			return nil, badPayload("audio event has no data", "data")
		}
		return ServerAudio{Data: w.Data, Format: w.Format}, nil

	case "transcript":
		var w serverTranscriptWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, badPayload("invalid transcript event", "")
		}
		if w.Role != RoleUser && w.Role != RoleAgent {
			return nil, badPayload("transcript role must be user or agent", "role")
		}
		return ServerTranscript{Role: w.Role, Text: w.Text}, nil

	case "turn_complete":
		return ServerTurnComplete{}, nil

	case "tool_call":
		var w serverToolCallWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, badPayload("invalid tool_call event", "calls")
		}
		if len(w.Calls) == 0 {
			return nil, badPayload("tool_call event has no calls", "calls")
		}
		for i, c := range w.Calls {
			if strings.TrimSpace(c.ID) == "" {
				return nil, badPayload("tool call is missing an id", fmt.Sprintf("calls[%d].id", i))
			}
		}
		return ServerToolCall{Calls: w.Calls}, nil

	case "error":
		var w serverErrorWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, badPayload("invalid error event", "")
		}
		return ServerError{Code: w.Code, Message: w.Message}, nil

	case "close":
		var w serverCloseWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, badPayload("invalid close event", "")
		}
		return ServerClose{Reason: w.Reason}, nil
	}

	// Forward compatibility: unrecognized tags are ignored, not fatal.
	return nil, nil
}

type clientAudioWire struct {
	Type   string      `json:"type"`
	Data   []byte      `json:"data"`
	Format AudioFormat `json:"format"`
}

type clientTextWire struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type clientToolResultWire struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	Result string `json:"result"`
}

// EncodeClientEvent serializes one outbound event to its JSON wire form.
func EncodeClientEvent(ev ClientEvent) ([]byte, error) {
	switch e := ev.(type) {
	case ClientAudio:
		return json.Marshal(clientAudioWire{Type: e.EventType(), Data: e.Data, Format: e.Format})
	case ClientText:
		return json.Marshal(clientTextWire{Type: e.EventType(), Text: e.Text})
	case ClientToolResult:
		return json.Marshal(clientToolResultWire{Type: e.EventType(), ID: e.ID, Name: e.Name, Result: e.Result})
	default:
		return nil, fmt.Errorf("unsupported client event %T", ev)
	}
}
