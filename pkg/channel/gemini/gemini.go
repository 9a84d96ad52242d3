// Package gemini implements the live channel on the Gemini Live API.
//
// The Live API has its own bidirectional message model; this adapter
// translates it to the channel event vocabulary at the boundary. One inbound
// Live message can expand to several events (audio parts, transcription
// fragments, a turn boundary), so received events are queued and drained in
// arrival order.
package gemini

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"google.golang.org/genai"

	"github.com/farmdepot-ng/voicelink/pkg/channel"
	"github.com/farmdepot-ng/voicelink/pkg/live/protocol"
)

// Dialer opens live channels against the Gemini Live API.
type Dialer struct {
	client *genai.Client
}

// NewDialer creates a Gemini dialer. An empty apiKey falls back to the
// GEMINI_API_KEY environment variable inside the client.
func NewDialer(ctx context.Context, apiKey string) (*Dialer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Dialer{client: client}, nil
}

// Dial opens a Live API session configured for bidirectional audio with
// transcription on both directions.
func (d *Dialer) Dial(ctx context.Context, cfg channel.Config) (channel.Channel, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model must not be empty")
	}

	connCfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if cfg.Voice != "" || cfg.LanguageCode != "" {
		connCfg.SpeechConfig = &genai.SpeechConfig{}
		if cfg.Voice != "" {
			connCfg.SpeechConfig.VoiceConfig = &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			}
		}
		if cfg.LanguageCode != "" {
			connCfg.SpeechConfig.LanguageCode = cfg.LanguageCode
		}
	}
	if cfg.SystemInstruction != "" {
		connCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemInstruction}},
		}
	}
	if decls := toolDeclarations(cfg.Tools); len(decls) > 0 {
		connCfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	session, err := d.client.Live.Connect(ctx, cfg.Model, connCfg)
	if err != nil {
		return nil, fmt.Errorf("connect live session: %w", err)
	}

	return &liveChannel{
		session:      session,
		inputFormat:  cfg.InputFormat,
		outputFormat: cfg.OutputFormat,
	}, nil
}

func toolDeclarations(tools []channel.ToolDeclaration) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]*genai.Schema, len(t.Required))
		for _, p := range t.Required {
			props[p] = &genai.Schema{Type: genai.TypeString}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name: t.Name,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   t.Required,
			},
		})
	}
	return decls
}

// liveChannel adapts one Live API session to the channel contract.
type liveChannel struct {
	session      *genai.Session
	inputFormat  protocol.AudioFormat
	outputFormat protocol.AudioFormat

	// pending holds events expanded from the last Live message but not yet
	// returned. Only the Receive goroutine touches it.
	pending []protocol.ServerEvent

	closed atomic.Bool
}

func (c *liveChannel) Send(ev protocol.ClientEvent) error {
	if c.closed.Load() {
		return channel.ErrClosed
	}

	switch e := ev.(type) {
	case protocol.ClientAudio:
		mime := fmt.Sprintf("audio/pcm;rate=%d", c.inputFormat.SampleRateHz)
		return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
			Media: &genai.Blob{Data: e.Data, MIMEType: mime},
		})

	case protocol.ClientText:
		return c.session.SendClientContent(textContentInput(e.Text))

	case protocol.ClientToolResult:
		return c.session.SendToolResponse(genai.LiveToolResponseInput{
			FunctionResponses: []*genai.FunctionResponse{{
				ID:       e.ID,
				Name:     e.Name,
				Response: map[string]any{"result": e.Result},
			}},
		})
	}

	return fmt.Errorf("unsupported client event %T", ev)
}

// textContentInput wraps a directive as a complete user turn.
func textContentInput(text string) genai.LiveClientContentInput {
	return genai.LiveClientContentInput{
		Turns: []*genai.Content{{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: text}},
		}},
		TurnComplete: genai.Ptr(true),
	}
}

func (c *liveChannel) Receive() (protocol.ServerEvent, error) {
	for {
		if len(c.pending) > 0 {
			ev := c.pending[0]
			c.pending = c.pending[1:]
			return ev, nil
		}

		msg, err := c.session.Receive()
		if err != nil {
			if c.closed.Load() || err == io.EOF {
				return nil, channel.ErrClosed
			}
			return nil, fmt.Errorf("receive live message: %w", err)
		}
		c.pending = c.expand(msg)
	}
}

// expand translates one Live server message into zero or more channel events,
// preserving arrival order within the message.
func (c *liveChannel) expand(msg *genai.LiveServerMessage) []protocol.ServerEvent {
	if msg == nil {
		return nil
	}
	var events []protocol.ServerEvent

	if sc := msg.ServerContent; sc != nil {
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			events = append(events, protocol.ServerTranscript{
				Role: protocol.RoleUser,
				Text: sc.InputTranscription.Text,
			})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			events = append(events, protocol.ServerTranscript{
				Role: protocol.RoleAgent,
				Text: sc.OutputTranscription.Text,
			})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				events = append(events, protocol.ServerAudio{
					Data:   part.InlineData.Data,
					Format: c.outputFormat,
				})
			}
		}
		if sc.TurnComplete {
			events = append(events, protocol.ServerTurnComplete{})
		}
	}

	if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		calls := make([]protocol.FunctionCall, 0, len(tc.FunctionCalls))
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			calls = append(calls, protocol.FunctionCall{
				ID:   fc.ID,
				Name: fc.Name,
				Args: fc.Args,
			})
		}
		if len(calls) > 0 {
			events = append(events, protocol.ServerToolCall{Calls: calls})
		}
	}

	if msg.GoAway != nil {
		events = append(events, protocol.ServerClose{Reason: "go_away"})
	}

	return events
}

func (c *liveChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.session.Close()
}
