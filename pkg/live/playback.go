package live

import (
	"sync"
	"time"
)

// OutputClock is the host audio output clock. Now is monotonic within one
// playback context.
type OutputClock interface {
	Now() time.Duration
}

// PlaybackHandle is one scheduled chunk. Done is closed when playback ends,
// whether naturally or via Cancel. Cancel must be idempotent.
type PlaybackHandle interface {
	Done() <-chan struct{}
	Cancel()
}

// ChunkSink schedules a PCM buffer to begin playing at start on the host
// output clock's timeline.
type ChunkSink interface {
	Schedule(pcm []byte, start time.Duration) (PlaybackHandle, error)
}

// AudioChunk is one immutable decoded unit of agent speech.
type AudioChunk struct {
	PCM      []byte
	Duration time.Duration
}

// NewAudioChunk builds a chunk from decoded samples in the given format.
func NewAudioChunk(samples []int16, format AudioFormat) AudioChunk {
	pcm := EncodeAudio(samples)
	return AudioChunk{PCM: pcm, Duration: format.Duration(len(pcm))}
}

// PlaybackScheduler plays chunks back-to-back with no gap and no overlap,
// regardless of arrival jitter. Each chunk starts at
// max(playbackClock, now); the clock then advances by the chunk's duration,
// so starts are monotonically non-decreasing and intervals never overlap.
type PlaybackScheduler struct {
	clock OutputClock
	sink  ChunkSink

	mu     sync.Mutex
	next   time.Duration
	active map[PlaybackHandle]struct{}

	onSpeaking func(bool)
}

// NewPlaybackScheduler creates a scheduler over the host clock and sink.
func NewPlaybackScheduler(clock OutputClock, sink ChunkSink) *PlaybackScheduler {
	return &PlaybackScheduler{
		clock:  clock,
		sink:   sink,
		active: make(map[PlaybackHandle]struct{}),
	}
}

// SetSpeakingFunc registers a callback fired on every is-speaking transition.
// Must be set before the first Play.
func (p *PlaybackScheduler) SetSpeakingFunc(fn func(speaking bool)) {
	p.onSpeaking = fn
}

// Play schedules one chunk on the continuous timeline and tracks it until it
// finishes.
func (p *PlaybackScheduler) Play(chunk AudioChunk) error {
	p.mu.Lock()

	start := p.next
	if now := p.clock.Now(); now > start {
		start = now
	}

	handle, err := p.sink.Schedule(chunk.PCM, start)
	if err != nil {
		p.mu.Unlock()
		return err
	}

	p.next = start + chunk.Duration
	wasSpeaking := len(p.active) > 0
	p.active[handle] = struct{}{}
	p.mu.Unlock()

	if !wasSpeaking {
		p.notifySpeaking(true)
	}

	go p.reap(handle)
	return nil
}

// reap removes a handle from the active set once its playback completes.
func (p *PlaybackScheduler) reap(handle PlaybackHandle) {
	<-handle.Done()

	p.mu.Lock()
	_, tracked := p.active[handle]
	delete(p.active, handle)
	idle := len(p.active) == 0
	p.mu.Unlock()

	if tracked && idle {
		p.notifySpeaking(false)
	}
}

// Speaking reports whether any scheduled chunk is still in flight.
func (p *PlaybackScheduler) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active) > 0
}

// Reset forcibly halts every in-flight chunk, clears the set, and rewinds the
// playback clock. Safe to call at any time, including when nothing is active.
func (p *PlaybackScheduler) Reset() {
	p.mu.Lock()
	handles := make([]PlaybackHandle, 0, len(p.active))
	for h := range p.active {
		handles = append(handles, h)
	}
	wasSpeaking := len(p.active) > 0
	p.active = make(map[PlaybackHandle]struct{})
	p.next = 0
	p.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	if wasSpeaking {
		p.notifySpeaking(false)
	}
}

func (p *PlaybackScheduler) notifySpeaking(speaking bool) {
	if p.onSpeaking != nil {
		p.onSpeaking(speaking)
	}
}
