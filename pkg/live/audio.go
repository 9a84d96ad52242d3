package live

import (
	"errors"
	"math"
	"time"

	"github.com/farmdepot-ng/voicelink/pkg/live/protocol"
)

// ErrMalformedAudio reports a wire payload that cannot be decoded to whole
// PCM16 samples. Callers drop the chunk; the session keeps running.
var ErrMalformedAudio = errors.New("malformed audio payload")

// AudioFormat describes one direction of the PCM pipeline.
// Capture and playback are configured independently and never cross-resampled.
type AudioFormat struct {
	SampleRateHz int
	Channels     int
}

// DefaultCaptureFormat is the microphone side: 16 kHz mono PCM16.
func DefaultCaptureFormat() AudioFormat { return AudioFormat{SampleRateHz: 16000, Channels: 1} }

// DefaultPlaybackFormat is the agent speech side: 24 kHz mono PCM16.
func DefaultPlaybackFormat() AudioFormat { return AudioFormat{SampleRateHz: 24000, Channels: 1} }

// BytesPerSecond returns the PCM16 byte rate for this format.
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRateHz * f.Channels * 2
}

// Duration converts a PCM16 byte count to wall-clock playback time.
func (f AudioFormat) Duration(nbytes int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(nbytes) * time.Second / time.Duration(bps)
}

// BytesFor returns the PCM16 byte count covering d.
func (f AudioFormat) BytesFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
}

// Wire converts to the on-wire format descriptor.
func (f AudioFormat) Wire() protocol.AudioFormat {
	return protocol.AudioFormat{
		Encoding:     "pcm_s16le",
		SampleRateHz: f.SampleRateHz,
		Channels:     f.Channels,
	}
}

// EncodeAudio packs samples as little-endian PCM16 bytes. The inverse of
// DecodeAudio; the pair round-trips bit-exactly.
func EncodeAudio(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// DecodeAudio unpacks little-endian PCM16 bytes into samples.
func DecodeAudio(data []byte) ([]int16, error) {
	if len(data) == 0 || len(data)%2 != 0 {
		return nil, ErrMalformedAudio
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return out, nil
}

// SamplesFromFloat32 converts normalized float samples from a capture device
// to PCM16, clamping out-of-range values.
func SamplesFromFloat32(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, v := range in {
		scaled := float64(v) * 32768.0
		switch {
		case scaled > 32767:
			out[i] = 32767
		case scaled < -32768:
			out[i] = -32768
		default:
			out[i] = int16(scaled)
		}
	}
	return out
}

// CalculateRMSEnergy computes the root-mean-square energy of little-endian
// PCM16 audio, normalized to 0.0..1.0. Used for level metering.
func CalculateRMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}
