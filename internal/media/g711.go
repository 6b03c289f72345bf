package media

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// SampleRate is the telephony sample rate of the media stream.
	SampleRate = 8000

	// FrameSamples is the number of samples in one 20ms wire frame.
	FrameSamples = 160

	// bytesPerSample is the width of a linear PCM sample (16-bit LE).
	bytesPerSample = 2
)

// G.711 u-law decoding table: maps each u-law byte to a 16-bit linear PCM sample.
var ulawToLinear [256]int16

// G.711 u-law encoding table, indexed by the uint16 bit pattern of the sample.
var linearToUlaw [65536]uint8

func init() {
	for i := 0; i < 256; i++ {
		ulawToLinear[i] = decodeUlaw(uint8(i))
	}
	for i := -32768; i <= 32767; i++ {
		linearToUlaw[uint16(int16(i))] = encodeUlaw(int16(i))
	}
}

// DecodeError reports a wire frame that could not be turned into PCM.
// It is never fatal: the frame is dropped and the stream continues.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decoding frame: %s: %v", e.Reason, e.Err)
	}
	return "decoding frame: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeFrame converts a u-law frame to 16-bit little-endian linear PCM.
func DecodeFrame(ulaw []byte) ([]byte, error) {
	if len(ulaw) == 0 {
		return nil, &DecodeError{Reason: "empty frame"}
	}
	pcm := make([]byte, len(ulaw)*bytesPerSample)
	for i, b := range ulaw {
		binary.LittleEndian.PutUint16(pcm[i*bytesPerSample:], uint16(ulawToLinear[b]))
	}
	return pcm, nil
}

// DecodeBase64Frame decodes a base64 media payload and converts it to PCM.
func DecodeBase64Frame(payload string) ([]byte, error) {
	ulaw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64 payload", Err: err}
	}
	return DecodeFrame(ulaw)
}

// EncodeFrame converts 16-bit little-endian linear PCM to u-law.
func EncodeFrame(pcm []byte) ([]byte, error) {
	if len(pcm)%bytesPerSample != 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("odd pcm length %d", len(pcm))}
	}
	ulaw := make([]byte, len(pcm)/bytesPerSample)
	for i := range ulaw {
		s := binary.LittleEndian.Uint16(pcm[i*bytesPerSample:])
		ulaw[i] = linearToUlaw[s]
	}
	return ulaw, nil
}

// decodeUlaw converts a u-law byte to a 16-bit linear PCM sample.
func decodeUlaw(u uint8) int16 {
	// Complement to obtain the original code.
	u = ^u
	exponent := uint((u >> 4) & 0x07)
	mantissa := int(u & 0x0F)
	sample := ((mantissa << 3) + 0x84) << exponent
	sample -= 0x84
	if u&0x80 != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// encodeUlaw converts a 16-bit linear PCM sample to a u-law byte.
func encodeUlaw(sample int16) uint8 {
	const bias = 0x84
	const clip = 32635

	v := int(sample)
	sign := uint8(0)
	if v < 0 {
		sign = 0x80
		v = -v
	}
	if v > clip {
		v = clip
	}
	v += bias

	exponent := 7
	mask := 0x4000
	for exponent > 0 {
		if v&mask != 0 {
			break
		}
		exponent--
		mask >>= 1
	}

	mantissa := (v >> (uint(exponent) + 3)) & 0x0F
	return ^(sign | uint8(exponent<<4) | uint8(mantissa))
}

// Energy returns the RMS level of a 16-bit little-endian PCM buffer in
// int16 sample units. A trailing odd byte is ignored.
func Energy(pcm []byte) float64 {
	n := len(pcm) / bytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
