package audio

import "encoding/binary"

const (
	// TelephonySampleRate is the G.711 rate Media Streams uses.
	TelephonySampleRate = 8000
	// FrameBytes is one 20ms frame of 8kHz mu-law audio.
	FrameBytes = 160

	mulawBias = 0x84
	mulawClip = 32635
)

// MulawSilence is the mu-law encoding of a zero sample.
const MulawSilence byte = 0xFF

// EncodeMulawSample compands one linear sample to G.711 mu-law.
func EncodeMulawSample(sample int16) byte {
	s := int(sample)
	var sign int
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := 7
	for mask := 0x4000; s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

// DecodeMulawSample expands one G.711 mu-law byte.
func DecodeMulawSample(u byte) int16 {
	u = ^u
	exponent := int(u>>4) & 0x07
	mantissa := int(u & 0x0F)
	s := (((mantissa << 3) + mulawBias) << exponent) - mulawBias
	if u&0x80 != 0 {
		return int16(-s)
	}
	return int16(s)
}

// EncodeMulaw compands PCM16LE mono audio. A trailing odd byte is ignored.
func EncodeMulaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = EncodeMulawSample(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

// DecodeMulaw expands mu-law audio to PCM16LE mono.
func DecodeMulaw(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, u := range ulaw {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(DecodeMulawSample(u)))
	}
	return out
}

// Resample converts PCM16LE mono audio between sample rates with linear
// interpolation. Good enough for speech fed to a phone line.
func Resample(pcm []byte, from, to int) []byte {
	if from <= 0 || to <= 0 || from == to || len(pcm) < 2 {
		return pcm
	}
	in := len(pcm) / 2
	n := int(int64(in) * int64(to) / int64(from))
	out := make([]byte, n*2)
	sample := func(i int) float64 {
		if i >= in {
			i = in - 1
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	ratio := float64(from) / float64(to)
	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		j := int(pos)
		frac := pos - float64(j)
		v := sample(j)*(1-frac) + sample(j+1)*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Frames splits data into size-byte frames. The last frame is padded with
// mu-law silence.
func Frames(data []byte, size int) [][]byte {
	if size <= 0 {
		return nil
	}
	var frames [][]byte
	for off := 0; off < len(data); off += size {
		frame := make([]byte, size)
		n := copy(frame, data[off:])
		for i := n; i < size; i++ {
			frame[i] = MulawSilence
		}
		frames = append(frames, frame)
	}
	return frames
}
