package media

import (
	"encoding/binary"
	"math"
	"time"
)

// toneAmplitude keeps generated tones well below clipping.
const toneAmplitude = 8000

// Tone returns d of a sine wave at freq Hz as 16-bit little-endian PCM at
// SampleRate.
func Tone(freq float64, d time.Duration) []byte {
	n := int(d * SampleRate / time.Second)
	if n <= 0 || freq <= 0 {
		return nil
	}
	pcm := make([]byte, n*bytesPerSample)
	for i := range n {
		v := toneAmplitude * math.Sin(2*math.Pi*freq*float64(i)/SampleRate)
		binary.LittleEndian.PutUint16(pcm[i*bytesPerSample:], uint16(int16(v)))
	}
	return pcm
}
