package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/farmdepot-ng/voicelink/pkg/channel"
	"github.com/farmdepot-ng/voicelink/pkg/live/protocol"
)

// ErrPermission reports that the microphone could not be acquired. The
// session surfaces it as the "Perms Error" status; the user may retry.
var ErrPermission = errors.New("microphone access denied")

// CaptureOpener acquires the live microphone input. Open blocks until the
// device is granted or ctx ends; a denial is reported as an error wrapping
// ErrPermission where the opener can tell.
type CaptureOpener interface {
	Open(ctx context.Context, format AudioFormat) (FrameSource, error)
}

// SessionOptions wires the session's collaborators.
type SessionOptions struct {
	// Dialer opens the channel to the remote agent. Required.
	Dialer channel.Dialer
	// Capture acquires the microphone. Required.
	Capture CaptureOpener
	// Clock and Sink are the host audio output boundary. Required.
	Clock OutputClock
	Sink  ChunkSink
	// Navigator performs tool-call side effects. Optional.
	Navigator Navigator
	// Logger receives debug/error logs. Defaults to slog.Default().
	Logger *slog.Logger
	// Metrics is optional pipeline instrumentation.
	Metrics *Metrics
}

// Session owns one conversation at a time: the lifecycle state machine, the
// capture→channel pump, the inbound demultiplexer, and the consumer-facing
// observables. A Session value is reusable across start/stop cycles; a
// generation counter invalidates callbacks belonging to a torn-down run, so
// in-flight operations complete but their results are discarded.
type Session struct {
	cfg SessionConfig

	dialer  channel.Dialer
	capture CaptureOpener
	logger  *slog.Logger
	metrics *Metrics

	playback   *PlaybackScheduler
	transcript *TranscriptAggregator
	tools      *ToolDispatcher

	mu         sync.Mutex
	state      SessionState
	status     string
	gen        uint64
	ch         channel.Channel
	frames     *CaptureSource
	cancel     context.CancelFunc
	languageID string

	sendMu sync.Mutex // serializes writes to the channel

	events chan Event
}

// NewSession creates a session controller in the Idle state.
func NewSession(cfg SessionConfig, opts SessionOptions) *Session {
	cfg.applyDefaults()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		cfg:        cfg,
		dialer:     opts.Dialer,
		capture:    opts.Capture,
		logger:     logger,
		metrics:    opts.Metrics,
		playback:   NewPlaybackScheduler(opts.Clock, opts.Sink),
		transcript: NewTranscriptAggregator(),
		tools:      NewToolDispatcher(opts.Navigator, cfg.WebsiteURL, logger),
		state:      StateIdle,
		status:     StatusReady,
		languageID: cfg.LanguageID,
		events:     make(chan Event, 64),
	}
	s.playback.SetSpeakingFunc(func(speaking bool) {
		s.emit(&SpeakingChangedEvent{Speaking: speaking})
	})
	s.transcript.SetUpdateFunc(func() {
		s.emit(&MessagesChangedEvent{})
	})
	return s
}

// Events is the consumer event stream. Events are dropped, never blocked on,
// if the consumer falls behind.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the user-facing status label.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsActive reports whether a conversation is live.
func (s *Session) IsActive() bool {
	return s.State() == StateActive
}

// IsSpeaking reports whether agent speech is currently playing.
func (s *Session) IsSpeaking() bool {
	return s.playback.Speaking()
}

// IsUserTurnOpen reports whether the user's transcript turn is still open.
func (s *Session) IsUserTurnOpen() bool {
	return s.transcript.TurnOpen(protocol.RoleUser)
}

// IsAgentTurnOpen reports whether the agent's transcript turn is still open.
func (s *Session) IsAgentTurnOpen() bool {
	return s.transcript.TurnOpen(protocol.RoleAgent)
}

// Messages returns an ordered snapshot of the conversation log.
func (s *Session) Messages() []Message {
	return s.transcript.Messages()
}

// ClearChat empties the conversation log without touching the session state.
func (s *Session) ClearChat() {
	s.transcript.Clear()
}

// Start opens a conversation: acquires the microphone, dials the channel,
// wires the pumps, and sends the greeting directive. A no-op when a session
// is already connecting or active. On failure no partial resources are
// retained.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateActive || s.state == StateConnecting {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	s.setStateLocked(StateConnecting, StatusConnecting)
	s.mu.Unlock()

	src, err := s.capture.Open(ctx, s.cfg.Capture)
	if err != nil {
		s.failStart(gen, StatusPermsError, "capture_denied", err)
		return fmt.Errorf("acquire microphone: %w", errors.Join(ErrPermission, err))
	}

	ch, err := s.dialer.Dial(ctx, s.channelConfig())
	if err != nil {
		if closer, ok := src.(interface{ Close() error }); ok {
			closer.Close()
		}
		s.failStart(gen, StatusError, "channel_open", err)
		return fmt.Errorf("open channel: %w", err)
	}

	s.mu.Lock()
	if gen != s.gen {
		// Stopped while connecting; discard what we just opened.
		s.mu.Unlock()
		if closer, ok := src.(interface{ Close() error }); ok {
			closer.Close()
		}
		ch.Close()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.ch = ch
	s.frames = NewCaptureSource(src, s.cfg.Capture, s.cfg.FrameSamples)
	frames := s.frames
	s.setStateLocked(StateActive, StatusActive)
	s.mu.Unlock()

	s.metrics.sessionStarted()
	s.logger.Debug("session active", "category", "SESSION", "model", s.cfg.Model)

	go s.captureLoop(runCtx, gen, frames, ch)
	go s.receiveLoop(runCtx, gen, ch)

	if err := s.send(ch, protocol.ClientText{Text: GreetingDirective()}); err != nil {
		s.logger.Debug("greeting send failed", "category", "CHANNEL", "error", err)
	}
	return nil
}

// Stop tears the session down and returns it to Idle. Idempotent: calling it
// twice, or before any Start, is a no-op.
func (s *Session) Stop() {
	s.teardown(StateIdle, StatusReady, nil)
}

// teardown performs the full stop sequence, landing in the given state.
func (s *Session) teardown(state SessionState, status string, fatal *ErrorEvent) {
	s.mu.Lock()
	wasLive := s.state == StateActive || s.state == StateConnecting
	s.gen++ // invalidate every in-flight completion handler
	ch := s.ch
	frames := s.frames
	cancel := s.cancel
	s.ch = nil
	s.frames = nil
	s.cancel = nil
	s.setStateLocked(state, status)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if frames != nil {
		frames.Unsubscribe()
	}
	if ch != nil {
		ch.Close()
	}
	s.playback.Reset()

	if wasLive {
		s.metrics.sessionEnded()
	}
	if fatal != nil {
		s.emit(fatal)
	}
}

// failStart records a failed Start attempt: Error state, no retained
// resources. A concurrent Stop (newer generation) wins.
func (s *Session) failStart(gen uint64, status, code string, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateError, status)
	s.mu.Unlock()

	s.logger.Error("session start failed", "category", "SESSION", "code", code, "error", err)
	s.emit(&ErrorEvent{Code: code, Message: status})
}

// SendText appends a user message and forwards the text as a directive,
// transparently starting a session first if none is open.
func (s *Session) SendText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	s.transcript.AppendUser(text)

	ch, err := s.ensureActive(ctx)
	if err != nil {
		return err
	}
	return s.send(ch, protocol.ClientText{Text: text})
}

// SendLanguageSwitch selects a supported language and directs the agent to
// switch to it, starting a session first if none is open. In that case the
// log also records the switch as a user message, mirroring what the user
// asked for before the agent could hear it.
func (s *Session) SendLanguageSwitch(ctx context.Context, id string) error {
	lang, ok := LanguageByID(id)
	if !ok {
		return fmt.Errorf("unknown language id %q", id)
	}

	s.mu.Lock()
	s.languageID = id
	active := s.state == StateActive
	s.mu.Unlock()

	if !active {
		s.transcript.AppendUser(LanguageSwitchLabel(lang))
	}

	ch, err := s.ensureActive(ctx)
	if err != nil {
		return err
	}
	return s.send(ch, protocol.ClientText{Text: LanguageDirective(lang)})
}

// ensureActive starts the session when needed and returns the live channel.
func (s *Session) ensureActive(ctx context.Context) (channel.Channel, error) {
	s.mu.Lock()
	ch := s.ch
	active := s.state == StateActive
	s.mu.Unlock()
	if active && ch != nil {
		return ch, nil
	}

	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.ch == nil {
		return nil, channel.ErrClosed
	}
	return s.ch, nil
}

func (s *Session) channelConfig() channel.Config {
	code := ""
	if lang, ok := LanguageByID(s.languageID); ok {
		code = lang.Code
	}
	return channel.Config{
		Model:             s.cfg.Model,
		SystemInstruction: s.cfg.SystemInstruction,
		Voice:             s.cfg.Voice,
		LanguageCode:      code,
		Tools:             s.cfg.Tools,
		InputFormat:       s.cfg.Capture.Wire(),
		OutputFormat:      s.cfg.Playback.Wire(),
	}
}

// captureLoop forwards encoded microphone frames in strict capture order.
func (s *Session) captureLoop(ctx context.Context, gen uint64, frames *CaptureSource, ch channel.Channel) {
	var sent int
	for frame := range frames.Frames() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !s.isCurrent(gen) {
			return
		}

		ev := protocol.ClientAudio{Data: EncodeAudio(frame), Format: s.cfg.Capture.Wire()}
		if err := s.send(ch, ev); err != nil {
			if s.isCurrent(gen) && !errors.Is(err, channel.ErrClosed) {
				s.onChannelError(gen, err)
			}
			return
		}
		s.metrics.audioBytes("out", len(ev.Data))

		sent++
		if sent%25 == 0 {
			s.logger.Debug("mic level", "category", "AUDIO", "rms", CalculateRMSEnergy(ev.Data))
		}
	}
}

// receiveLoop demultiplexes inbound channel events in strict arrival order.
func (s *Session) receiveLoop(ctx context.Context, gen uint64, ch channel.Channel) {
	for {
		ev, err := ch.Receive()
		if err != nil {
			if !s.isCurrent(gen) || ctx.Err() != nil {
				return
			}
			if errors.Is(err, channel.ErrClosed) {
				s.onChannelClose(gen, "")
			} else {
				s.onChannelError(gen, err)
			}
			return
		}
		if ev == nil {
			continue // unknown event tag, ignored at the boundary
		}
		if !s.isCurrent(gen) {
			return
		}

		switch e := ev.(type) {
		case protocol.ServerAudio:
			s.onAudio(gen, e)
		case protocol.ServerTranscript:
			s.transcript.OnPartial(e.Role, e.Text)
		case protocol.ServerTurnComplete:
			s.transcript.OnTurnComplete()
		case protocol.ServerToolCall:
			s.onToolCall(gen, ch, e)
		case protocol.ServerError:
			s.logger.Error("channel reported error", "category", "CHANNEL", "code", e.Code, "message", e.Message)
			s.onChannelError(gen, fmt.Errorf("remote error: %s", e.Code))
			return
		case protocol.ServerClose:
			s.onChannelClose(gen, e.Reason)
			return
		}
	}
}

// onAudio decodes one agent speech chunk and schedules it. A malformed chunk
// is dropped; the session continues.
func (s *Session) onAudio(gen uint64, e protocol.ServerAudio) {
	samples, err := DecodeAudio(e.Data)
	if err != nil {
		s.metrics.chunkDropped()
		s.logger.Debug("dropping malformed audio chunk", "category", "AUDIO", "bytes", len(e.Data))
		return
	}
	s.metrics.audioBytes("in", len(e.Data))

	if !s.isCurrent(gen) {
		return
	}
	if err := s.playback.Play(NewAudioChunk(samples, s.cfg.Playback)); err != nil {
		s.metrics.chunkDropped()
		s.logger.Debug("playback schedule failed", "category", "AUDIO", "error", err)
	}
}

// onToolCall answers every function call exactly once, correlated by id.
func (s *Session) onToolCall(gen uint64, ch channel.Channel, e protocol.ServerToolCall) {
	for _, call := range e.Calls {
		s.metrics.toolCall(call.Name)
		result := s.tools.Dispatch(call.Name, call.Args)

		if !s.isCurrent(gen) {
			return
		}
		resp := protocol.ClientToolResult{ID: call.ID, Name: call.Name, Result: result}
		if err := s.send(ch, resp); err != nil {
			s.logger.Error("tool result send failed", "category", "TOOLS", "id", call.ID, "error", err)
		}
	}
}

func (s *Session) onChannelError(gen uint64, err error) {
	if !s.isCurrent(gen) {
		return
	}
	s.logger.Error("channel failure", "category", "CHANNEL", "error", err)
	s.teardown(StateError, StatusError, &ErrorEvent{Code: "channel", Message: StatusError})
}

func (s *Session) onChannelClose(gen uint64, reason string) {
	if !s.isCurrent(gen) {
		return
	}
	s.logger.Debug("channel closed by remote", "category", "CHANNEL", "reason", reason)
	s.teardown(StateOffline, StatusOffline, nil)
}

// send serializes channel writes; capture frames, directives, and tool
// results share one writer.
func (s *Session) send(ch channel.Channel, ev protocol.ClientEvent) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return ch.Send(ev)
}

// isCurrent reports whether gen still identifies the live run. Callbacks
// from a torn-down run use this to discard their results.
func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

// setStateLocked updates state and status; the caller holds s.mu. Emits the
// transition event (buffered, never blocking).
func (s *Session) setStateLocked(state SessionState, status string) bool {
	if s.state == state && s.status == status {
		return false
	}
	from := s.state
	s.state = state
	s.status = status
	// emit is non-blocking, safe under the lock.
	s.emit(&StateChangedEvent{From: from, To: state, Status: status})
	return true
}

// emit delivers an event without ever blocking the pipeline.
func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
	default:
	}
}
