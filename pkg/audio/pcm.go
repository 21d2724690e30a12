package audio

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// sample decodes the i-th little-endian int16 sample of pcm.
func sample(pcm []byte, i int) int16 {
	return int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
}

// PCMDuration returns the playback length of n bytes of 16-bit PCM.
func PCMDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	if channels <= 0 {
		channels = 1
	}
	samples := n / (BytesPerSample * channels)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// RMS returns the root-mean-square level of 16-bit PCM, normalised to
// [0, 1] by dividing each sample by 32768. A trailing odd byte is ignored.
// Empty input yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(sample(pcm, i)) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. When the rates match (or either is invalid) the input
// is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < BytesPerSample {
		return pcm
	}
	srcSamples := len(pcm) / BytesPerSample
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*BytesPerSample)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sample(pcm, idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sample(pcm, idx+1)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Resampler brings client frames to the recognizer's sample rate. It is used
// when a client captures at a rate other than 16 kHz. A Resampler belongs to
// one listening phase and must not be shared across goroutines.
type Resampler struct {
	// Target is the recognizer sample rate.
	Target int

	warnOnce sync.Once
}

// Convert returns frame at the target rate. Frames with an odd byte count are
// corrupt and come back with nil Data.
func (r *Resampler) Convert(frame AudioFrame) AudioFrame {
	if len(frame.Data)%BytesPerSample != 0 {
		r.warnOnce.Do(func() {
			slog.Warn("audio: odd byte count in PCM frame, dropping", "bytes", len(frame.Data))
		})
		frame.Data = nil
		return frame
	}
	if frame.SampleRate == r.Target || r.Target <= 0 {
		return frame
	}
	frame.Data = ResampleMono16(frame.Data, frame.SampleRate, r.Target)
	frame.SampleRate = r.Target
	return frame
}
