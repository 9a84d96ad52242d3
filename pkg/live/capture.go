package live

import (
	"io"
	"sync"
)

// FrameSource is a live raw audio input: a blocking stream of little-endian
// PCM16 bytes. Microphone devices implement it; Read returns io.EOF (or any
// other error) once the device is gone. If the source also implements
// io.Closer it is closed on Unsubscribe.
type FrameSource interface {
	Read(p []byte) (int, error)
}

// CaptureSource turns a FrameSource into a lazy, infinite, non-restartable
// sequence of fixed-size PCM16 frames. Frames are delivered in strict arrival
// order, each exactly once, on the Frames channel.
type CaptureSource struct {
	src          FrameSource
	format       AudioFormat
	frameSamples int

	frames chan []int16
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	closed bool

	wg sync.WaitGroup
}

// NewCaptureSource starts reading src immediately. frameSamples is the fixed
// frame size; values <= 0 default to 4096 samples.
func NewCaptureSource(src FrameSource, format AudioFormat, frameSamples int) *CaptureSource {
	if frameSamples <= 0 {
		frameSamples = 4096
	}
	c := &CaptureSource{
		src:          src,
		format:       format,
		frameSamples: frameSamples,
		frames:       make(chan []int16),
		done:         make(chan struct{}),
	}
	c.wg.Add(1)
	go c.pump()
	return c
}

// Frames is the frame stream. It is closed after Unsubscribe or when the
// underlying source ends.
func (c *CaptureSource) Frames() <-chan []int16 {
	return c.frames
}

// Format returns the capture audio format.
func (c *CaptureSource) Format() AudioFormat {
	return c.format
}

// Unsubscribe tears the source down. Idempotent; once it returns, no further
// frame is delivered and the Frames channel is closed.
func (c *CaptureSource) Unsubscribe() {
	c.once.Do(func() { close(c.done) })

	// Taking the emit mutex after closing done serializes with any in-flight
	// send: emit either completed before this point or bails out on done.
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	c.mu.Unlock()

	if closer, ok := c.src.(io.Closer); ok {
		closer.Close()
	}
}

func (c *CaptureSource) pump() {
	defer c.wg.Done()

	frameBytes := c.frameSamples * 2
	buf := make([]byte, 0, frameBytes*2)
	read := make([]byte, frameBytes)

	for {
		select {
		case <-c.done:
			return
		default:
		}

		n, err := c.src.Read(read)
		if n > 0 {
			buf = append(buf, read[:n]...)
		}

		for len(buf) >= frameBytes {
			samples, decodeErr := DecodeAudio(buf[:frameBytes])
			buf = buf[frameBytes:]
			if decodeErr != nil {
				continue
			}
			if !c.emit(samples) {
				return
			}
		}

		if err != nil {
			// Source ended on its own; the sequence is non-restartable.
			c.mu.Lock()
			if !c.closed {
				c.closed = true
				close(c.frames)
			}
			c.mu.Unlock()
			return
		}
	}
}

// emit delivers one frame unless the source was unsubscribed. Holding the
// mutex across the send is what lets Unsubscribe guarantee no delivery after
// it returns.
func (c *CaptureSource) emit(frame []int16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.frames <- frame:
		return true
	case <-c.done:
		return false
	}
}
