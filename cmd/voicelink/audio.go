package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/farmdepot-ng/voicelink/pkg/live"
)

// hostAudio owns the OS audio stack: one malgo context for capture and one
// oto context for playback. Both are process-wide singletons.
type hostAudio struct {
	malgoCtx *malgo.AllocatedContext
	speaker  *speaker
	clock    *hostClock
}

func newHostAudio(playback live.AudioFormat) (*hostAudio, error) {
	ctxCfg := malgo.ContextConfig{}
	ctxCfg.ThreadPriority = malgo.ThreadPriorityRealtime
	malgoCtx, err := malgo.InitContext(nil, ctxCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("init capture context: %w", err)
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   playback.SampleRateHz,
		ChannelCount: playback.Channels,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms buffer: low latency without starving the device.
		BufferSize: 100 * time.Millisecond,
	})
	if err != nil {
		malgoCtx.Uninit()
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready

	return &hostAudio{
		malgoCtx: malgoCtx,
		speaker:  newSpeaker(otoCtx),
		clock:    &hostClock{epoch: time.Now()},
	}, nil
}

func (h *hostAudio) close() {
	h.speaker.close()
	_ = h.malgoCtx.Uninit()
}

// hostClock measures playback time since process audio start.
type hostClock struct {
	epoch time.Time
}

func (c *hostClock) Now() time.Duration { return time.Since(c.epoch) }

// micOpener opens the default capture device at the requested format.
type micOpener struct {
	host *hostAudio
}

func (o *micOpener) Open(ctx context.Context, format live.AudioFormat) (live.FrameSource, error) {
	m := &micSource{}
	m.cond = sync.NewCond(&m.mu)

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatS16
	deviceCfg.Capture.Channels = uint32(format.Channels)
	deviceCfg.SampleRate = uint32(format.SampleRateHz)
	deviceCfg.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			m.mu.Lock()
			if !m.closed {
				m.buf = append(m.buf, input...)
			}
			m.mu.Unlock()
			m.cond.Signal()
		},
	}

	device, err := malgo.InitDevice(o.host.malgoCtx.Context, deviceCfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start microphone: %w", err)
	}
	m.device = device
	return m, nil
}

// micSource buffers capture callbacks and hands bytes to the pump.
type micSource struct {
	device *malgo.Device

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func (m *micSource) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.buf) == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return 0, io.EOF
	}
	n := copy(p, m.buf)
	m.buf = m.buf[n:]
	return n, nil
}

func (m *micSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()

	_ = m.device.Stop()
	m.device.Uninit()
	return nil
}

// speaker is a continuously running pull-based oto player. Scheduled chunks
// append to its buffer at their start time; silence plays in the gaps.
type speaker struct {
	otoCtx *oto.Context

	mu      sync.Mutex
	buf     []byte
	player  *oto.Player
	playing bool
	closed  bool
}

func newSpeaker(ctx *oto.Context) *speaker {
	return &speaker{otoCtx: ctx}
}

func (s *speaker) write(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buf = append(s.buf, pcm...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
}

// Read feeds oto. An empty buffer yields silence so the device never stalls.
func (s *speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}

// flush drops all queued audio immediately.
func (s *speaker) flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.mu.Unlock()
}

func (s *speaker) close() {
	s.mu.Lock()
	s.closed = true
	s.buf = nil
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		player.Close()
	}
}

// speakerSink schedules chunks onto the speaker at their assigned start
// times. Starts are monotone and non-overlapping by contract, so a timer per
// chunk is enough.
type speakerSink struct {
	speaker *speaker
	clock   *hostClock
}

func (s *speakerSink) Schedule(pcm []byte, start time.Duration) (live.PlaybackHandle, error) {
	format := live.DefaultPlaybackFormat()
	h := &sinkHandle{done: make(chan struct{}), cancel: make(chan struct{})}

	go func() {
		defer h.finish()

		if wait := start - s.clock.Now(); wait > 0 {
			select {
			case <-time.After(wait):
			case <-h.cancel:
				return
			}
		}
		select {
		case <-h.cancel:
			return
		default:
		}
		s.speaker.write(pcm)

		end := start + format.Duration(len(pcm))
		if wait := end - s.clock.Now(); wait > 0 {
			select {
			case <-time.After(wait):
			case <-h.cancel:
				s.speaker.flush()
			}
		}
	}()

	return h, nil
}

type sinkHandle struct {
	done   chan struct{}
	cancel chan struct{}
	once   sync.Once
	cOnce  sync.Once
}

func (h *sinkHandle) Done() <-chan struct{} { return h.done }

func (h *sinkHandle) Cancel() {
	h.cOnce.Do(func() { close(h.cancel) })
}

func (h *sinkHandle) finish() {
	h.once.Do(func() { close(h.done) })
}
