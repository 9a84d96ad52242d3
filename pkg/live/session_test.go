package live

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/farmdepot-ng/voicelink/pkg/channel"
	"github.com/farmdepot-ng/voicelink/pkg/live/protocol"
)

// fakeChannel is a scriptable in-memory channel. Server events are fed
// through push; everything the session sends is recorded.
type fakeChannel struct {
	mu    sync.Mutex
	sent  []protocol.ClientEvent
	inbox chan protocol.ServerEvent

	closed chan struct{}
	once   sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		inbox:  make(chan protocol.ServerEvent, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeChannel) push(ev protocol.ServerEvent) { c.inbox <- ev }

func (c *fakeChannel) Send(ev protocol.ClientEvent) error {
	select {
	case <-c.closed:
		return channel.ErrClosed
	default:
	}
	c.mu.Lock()
	c.sent = append(c.sent, ev)
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Receive() (protocol.ServerEvent, error) {
	select {
	case ev := <-c.inbox:
		return ev, nil
	case <-c.closed:
		return nil, channel.ErrClosed
	}
}

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeChannel) sentEvents() []protocol.ClientEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.ClientEvent, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeChannel) sentTexts() []string {
	var texts []string
	for _, ev := range c.sentEvents() {
		if t, ok := ev.(protocol.ClientText); ok {
			texts = append(texts, t.Text)
		}
	}
	return texts
}

type fakeDialer struct {
	mu   sync.Mutex
	ch   *fakeChannel
	err  error
	cfgs []channel.Config
}

func (d *fakeDialer) Dial(ctx context.Context, cfg channel.Config) (channel.Channel, error) {
	d.mu.Lock()
	d.cfgs = append(d.cfgs, cfg)
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.ch, nil
}

type fakeOpener struct {
	src FrameSource
	err error
}

func (o *fakeOpener) Open(ctx context.Context, format AudioFormat) (FrameSource, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.src, nil
}

type sessionFixture struct {
	session *Session
	dialer  *fakeDialer
	ch      *fakeChannel
	mic     *blockingSource
	sink    *fakeSink
	clock   *fakeClock
	nav     *recordingNavigator
}

type recordingNavigator struct {
	mu   sync.Mutex
	urls []string
}

func (n *recordingNavigator) Open(url string) error {
	n.mu.Lock()
	n.urls = append(n.urls, url)
	n.mu.Unlock()
	return nil
}

func (n *recordingNavigator) opened() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.urls))
	copy(out, n.urls)
	return out
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		ch:    newFakeChannel(),
		mic:   &blockingSource{unblock: make(chan struct{})},
		sink:  &fakeSink{format: DefaultPlaybackFormat()},
		clock: &fakeClock{},
		nav:   &recordingNavigator{},
	}
	f.dialer = &fakeDialer{ch: f.ch}

	cfg := DefaultSessionConfig()
	cfg.FrameSamples = 8
	f.session = NewSession(cfg, SessionOptions{
		Dialer:    f.dialer,
		Capture:   &fakeOpener{src: f.mic},
		Clock:     f.clock,
		Sink:      f.sink,
		Navigator: f.nav,
	})
	t.Cleanup(f.session.Stop)
	return f
}

func (f *sessionFixture) start(t *testing.T) {
	t.Helper()
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := f.session.State(); got != StateActive {
		t.Fatalf("state after Start = %v, want ACTIVE", got)
	}
}

func TestSession_StartSendsGreeting(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)

	if got := f.session.Status(); got != StatusActive {
		t.Errorf("status = %q, want %q", got, StatusActive)
	}
	waitFor(t, func() bool { return len(f.ch.sentTexts()) >= 1 })
	if got := f.ch.sentTexts()[0]; got != GreetingDirective() {
		t.Errorf("first directive = %q, want greeting", got)
	}
}

func TestSession_StartTwiceIsNoop(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)

	if err := f.session.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := len(f.dialer.cfgs); got != 1 {
		t.Errorf("dialed %d times, want 1", got)
	}
	// No second greeting either.
	if got := len(f.ch.sentTexts()); got != 1 {
		t.Errorf("sent %d directives, want 1", got)
	}
}

func TestSession_StopIdempotent(t *testing.T) {
	f := newSessionFixture(t)

	// Stop before any Start is a no-op.
	f.session.Stop()
	if got := f.session.State(); got != StateIdle {
		t.Fatalf("state = %v, want IDLE", got)
	}

	f.start(t)
	f.session.Stop()
	f.session.Stop()

	if got := f.session.State(); got != StateIdle {
		t.Errorf("state after Stop = %v, want IDLE", got)
	}
	if got := f.session.Status(); got != StatusReady {
		t.Errorf("status after Stop = %q, want %q", got, StatusReady)
	}
	if !f.ch.isClosed() {
		t.Error("channel not closed by Stop")
	}
	waitFor(t, func() bool {
		select {
		case <-f.mic.unblock:
			return true
		default:
			return false
		}
	})
}

func TestSession_RestartAfterStop(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)
	f.session.Stop()

	// Wire a fresh channel and mic for the second run.
	f.dialer.ch = newFakeChannel()
	f.session.capture = &fakeOpener{src: &blockingSource{unblock: make(chan struct{})}}

	f.start(t)
	if got := len(f.dialer.cfgs); got != 2 {
		t.Errorf("dialed %d times, want 2", got)
	}
}

func TestSession_CaptureDenied(t *testing.T) {
	f := newSessionFixture(t)
	denied := errors.New("device busy")
	f.session.capture = &fakeOpener{err: denied}

	err := f.session.Start(context.Background())
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("Start error = %v, want ErrPermission", err)
	}
	if got := f.session.State(); got != StateError {
		t.Errorf("state = %v, want ERROR", got)
	}
	if got := f.session.Status(); got != StatusPermsError {
		t.Errorf("status = %q, want %q", got, StatusPermsError)
	}
	if got := len(f.dialer.cfgs); got != 0 {
		t.Errorf("dialed %d times after capture denial, want 0", got)
	}
}

func TestSession_DialFailure(t *testing.T) {
	f := newSessionFixture(t)
	f.dialer.err = errors.New("connection refused")

	if err := f.session.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with a failing dialer")
	}
	if got := f.session.State(); got != StateError {
		t.Errorf("state = %v, want ERROR", got)
	}
	if got := f.session.Status(); got != StatusError {
		t.Errorf("status = %q, want %q", got, StatusError)
	}
}

func TestSession_ForwardsCaptureFrames(t *testing.T) {
	f := newSessionFixture(t)

	// Two exact frames of mic audio, then EOF.
	samples := make([]int16, 16)
	for i := range samples {
		samples[i] = int16(i + 1)
	}
	f.session.capture = &fakeOpener{src: &scriptedSource{data: EncodeAudio(samples), chunkSize: 7}}

	f.start(t)

	waitFor(t, func() bool {
		n := 0
		for _, ev := range f.ch.sentEvents() {
			if _, ok := ev.(protocol.ClientAudio); ok {
				n++
			}
		}
		return n == 2
	})

	var got []int16
	for _, ev := range f.ch.sentEvents() {
		if a, ok := ev.(protocol.ClientAudio); ok {
			frame, err := DecodeAudio(a.Data)
			if err != nil {
				t.Fatalf("forwarded frame undecodable: %v", err)
			}
			got = append(got, frame...)
		}
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d (capture order broken)", i, got[i], samples[i])
		}
	}
}

func TestSession_SchedulesAgentAudio(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)

	pcm := EncodeAudio(make([]int16, 2400)) // 100ms at 24kHz
	f.ch.push(protocol.ServerAudio{Data: pcm, Format: DefaultPlaybackFormat().Wire()})
	f.ch.push(protocol.ServerAudio{Data: pcm, Format: DefaultPlaybackFormat().Wire()})

	waitFor(t, func() bool {
		f.sink.mu.Lock()
		defer f.sink.mu.Unlock()
		return len(f.sink.chunks) == 2
	})

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	if got := f.sink.chunks[1].start; got != 100*time.Millisecond {
		t.Errorf("second chunk start = %v, want 100ms (gapless)", got)
	}
	if !f.session.IsSpeaking() {
		t.Error("not speaking with scheduled chunks")
	}
}

func TestSession_DropsMalformedAudio(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)

	f.ch.push(protocol.ServerAudio{Data: []byte{1, 2, 3}}) // odd length
	f.ch.push(protocol.ServerTranscript{Role: protocol.RoleAgent, Text: "still here"})

	waitFor(t, func() bool { return len(f.session.Messages()) == 1 })

	f.sink.mu.Lock()
	scheduled := len(f.sink.chunks)
	f.sink.mu.Unlock()
	if scheduled != 0 {
		t.Errorf("malformed chunk was scheduled (%d chunks)", scheduled)
	}
	if got := f.session.State(); got != StateActive {
		t.Errorf("state = %v after malformed chunk, want ACTIVE", got)
	}
}

func TestSession_TranscriptFlow(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)

	f.ch.push(protocol.ServerTranscript{Role: protocol.RoleUser, Text: "how "})
	f.ch.push(protocol.ServerTranscript{Role: protocol.RoleAgent, Text: "Fine "})
	f.ch.push(protocol.ServerTranscript{Role: protocol.RoleUser, Text: "far?"})
	f.ch.push(protocol.ServerTranscript{Role: protocol.RoleAgent, Text: "fine, my customer!"})
	f.ch.push(protocol.ServerTurnComplete{})

	// Each role change opens a new log entry carrying that role's cumulative
	// buffer, so the interleaving above yields four entries.
	waitFor(t, func() bool {
		msgs := f.session.Messages()
		return len(msgs) == 4 && !msgs[3].Open()
	})

	msgs := f.session.Messages()
	wantTexts := []struct {
		role protocol.Role
		text string
	}{
		{protocol.RoleUser, "how "},
		{protocol.RoleAgent, "Fine "},
		{protocol.RoleUser, "how far?"},
		{protocol.RoleAgent, "Fine fine, my customer!"},
	}
	for i, want := range wantTexts {
		if msgs[i].Role != want.role || msgs[i].Text != want.text {
			t.Errorf("message %d = %q/%q, want %q/%q", i, msgs[i].Role, msgs[i].Text, want.role, want.text)
		}
		if msgs[i].Open() {
			t.Errorf("message %d still open after turn_complete", i)
		}
	}
	if f.session.IsUserTurnOpen() || f.session.IsAgentTurnOpen() {
		t.Error("turns still open after turn_complete")
	}
}

func TestSession_ToolCallAnsweredOnce(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)

	f.ch.push(protocol.ServerToolCall{Calls: []protocol.FunctionCall{
		{ID: "call-1", Name: ToolNavigateToPage, Args: map[string]any{"page": "About"}},
	}})

	waitFor(t, func() bool {
		for _, ev := range f.ch.sentEvents() {
			if _, ok := ev.(protocol.ClientToolResult); ok {
				return true
			}
		}
		return false
	})

	var results []protocol.ClientToolResult
	for _, ev := range f.ch.sentEvents() {
		if r, ok := ev.(protocol.ClientToolResult); ok {
			results = append(results, r)
		}
	}
	if len(results) != 1 {
		t.Fatalf("got %d tool results, want exactly 1", len(results))
	}
	if results[0].ID != "call-1" {
		t.Errorf("result id = %q, want call-1", results[0].ID)
	}
	if results[0].Result != "Navigating to About now, my customer!" {
		t.Errorf("result = %q", results[0].Result)
	}
	if got := f.nav.opened(); len(got) != 1 || got[0] != "https://farmdepot.ng/about" {
		t.Errorf("navigated to %v, want exactly [https://farmdepot.ng/about]", got)
	}
}

func TestSession_ServerErrorIsFatal(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)

	f.ch.push(protocol.ServerError{Code: "quota", Message: "out of quota"})

	waitFor(t, func() bool { return f.session.State() == StateError })
	if got := f.session.Status(); got != StatusError {
		t.Errorf("status = %q, want %q", got, StatusError)
	}
	if !f.ch.isClosed() {
		t.Error("channel not closed after fatal error")
	}
}

func TestSession_RemoteCloseGoesOffline(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)

	f.ch.push(protocol.ServerClose{Reason: "going away"})

	waitFor(t, func() bool { return f.session.State() == StateOffline })
	if got := f.session.Status(); got != StatusOffline {
		t.Errorf("status = %q, want %q", got, StatusOffline)
	}
}

func TestSession_SendTextAutoStarts(t *testing.T) {
	f := newSessionFixture(t)

	if err := f.session.SendText(context.Background(), "Abeg find me yam"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	if got := f.session.State(); got != StateActive {
		t.Fatalf("state = %v, want ACTIVE after auto-start", got)
	}
	msgs := f.session.Messages()
	if len(msgs) != 1 || msgs[0].Text != "Abeg find me yam" || msgs[0].Role != protocol.RoleUser {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Open() {
		t.Error("typed message left open")
	}
	texts := f.ch.sentTexts()
	if len(texts) != 2 || texts[0] != GreetingDirective() || texts[1] != "Abeg find me yam" {
		t.Errorf("directives = %v", texts)
	}
}

func TestSession_LanguageSwitchAutoStarts(t *testing.T) {
	f := newSessionFixture(t)

	if err := f.session.SendLanguageSwitch(context.Background(), "1"); err != nil {
		t.Fatalf("SendLanguageSwitch: %v", err)
	}

	msgs := f.session.Messages()
	if len(msgs) != 1 || msgs[0].Text != "Switch to Hausa" {
		t.Fatalf("messages = %+v, want one 'Switch to Hausa' entry", msgs)
	}
	texts := f.ch.sentTexts()
	if len(texts) != 2 || texts[1] != "Oya! Switch language to Hausa for me now!" {
		t.Errorf("directives = %v", texts)
	}
	// The auto-started channel carries the selected language.
	if got := f.dialer.cfgs[0].LanguageCode; got != "ha" {
		t.Errorf("dialed language = %q, want ha", got)
	}
}

func TestSession_LanguageSwitchWhileActive(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)

	if err := f.session.SendLanguageSwitch(context.Background(), "3"); err != nil {
		t.Fatalf("SendLanguageSwitch: %v", err)
	}

	// Mid-conversation the directive goes out but no log entry is added.
	if got := len(f.session.Messages()); got != 0 {
		t.Errorf("messages = %d, want 0", got)
	}
	texts := f.ch.sentTexts()
	if texts[len(texts)-1] != "Oya! Switch language to Yoruba for me now!" {
		t.Errorf("last directive = %q", texts[len(texts)-1])
	}
}

func TestSession_LanguageSwitchUnknownID(t *testing.T) {
	f := newSessionFixture(t)
	if err := f.session.SendLanguageSwitch(context.Background(), "99"); err == nil {
		t.Fatal("unknown language id accepted")
	}
	if got := f.session.State(); got != StateIdle {
		t.Errorf("state = %v, want IDLE (no auto-start on bad id)", got)
	}
}

func TestSession_ClearChatKeepsSessionLive(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)

	f.ch.push(protocol.ServerTranscript{Role: protocol.RoleAgent, Text: "hello"})
	waitFor(t, func() bool { return len(f.session.Messages()) == 1 })

	f.session.ClearChat()
	if got := len(f.session.Messages()); got != 0 {
		t.Errorf("messages after ClearChat = %d, want 0", got)
	}
	if got := f.session.State(); got != StateActive {
		t.Errorf("state = %v, want ACTIVE", got)
	}
}

func TestSession_StaleEventsAfterStopDiscarded(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)

	f.session.Stop()

	// An event raced the teardown. It must not resurrect the error state
	// or touch the transcript.
	select {
	case f.ch.inbox <- protocol.ServerError{Code: "late"}:
	default:
	}
	time.Sleep(20 * time.Millisecond)

	if got := f.session.State(); got != StateIdle {
		t.Errorf("state = %v after stale event, want IDLE", got)
	}
}

func TestSession_DialCarriesPersona(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)

	cfg := f.dialer.cfgs[0]
	if cfg.Model != DefaultModel {
		t.Errorf("model = %q", cfg.Model)
	}
	if cfg.SystemInstruction != SystemInstruction {
		t.Error("system instruction not forwarded")
	}
	if cfg.Voice != DefaultVoice {
		t.Errorf("voice = %q", cfg.Voice)
	}
	if got := len(cfg.Tools); got != 3 {
		t.Errorf("advertised %d tools, want 3", got)
	}
	if cfg.InputFormat.SampleRateHz != 16000 || cfg.OutputFormat.SampleRateHz != 24000 {
		t.Errorf("formats = %+v / %+v", cfg.InputFormat, cfg.OutputFormat)
	}
}

var _ io.Closer = (*blockingSource)(nil)
