package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var ErrUnsupportedWAV = errors.New("unsupported wav")

// PCM is mono 16-bit little-endian audio.
type PCM struct {
	Data       []byte
	SampleRate int
}

type wavHeader struct {
	RIFF          [4]byte
	Size          uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// WriteWAV writes pcm as a canonical 44-byte-header WAV stream.
func WriteWAV(w io.Writer, pcm PCM) error {
	rate := pcm.SampleRate
	if rate <= 0 {
		rate = TelephonySampleRate
	}
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		Size:          36 + uint32(len(pcm.Data)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      1,
		SampleRate:    uint32(rate),
		ByteRate:      uint32(rate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm.Data)),
	}
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return err
	}
	_, err := w.Write(pcm.Data)
	return err
}

// ReadWAV decodes 16-bit PCM WAV data, downmixing to mono.
func ReadWAV(data []byte) (PCM, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return PCM{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrUnsupportedWAV)
	}

	var (
		haveFmt  bool
		format   uint16
		channels int
		rate     int
		bits     uint16
		payload  []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return PCM{}, fmt.Errorf("%w: chunk %q overruns file", ErrUnsupportedWAV, id)
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return PCM{}, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedWAV)
			}
			format = binary.LittleEndian.Uint16(chunk[0:2])
			channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			rate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bits = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			payload = chunk
		}
		off += size + size%2
	}

	switch {
	case !haveFmt:
		return PCM{}, fmt.Errorf("%w: fmt chunk missing", ErrUnsupportedWAV)
	case payload == nil:
		return PCM{}, fmt.Errorf("%w: data chunk missing", ErrUnsupportedWAV)
	case format != 1 || bits != 16:
		return PCM{}, fmt.Errorf("%w: format %d with %d bits, want 16-bit PCM", ErrUnsupportedWAV, format, bits)
	case channels <= 0:
		return PCM{}, fmt.Errorf("%w: zero channels", ErrUnsupportedWAV)
	}

	frameBytes := channels * 2
	frames := len(payload) / frameBytes
	mono := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += int(int16(binary.LittleEndian.Uint16(payload[i*frameBytes+ch*2:])))
		}
		binary.LittleEndian.PutUint16(mono[i*2:], uint16(int16(sum/channels)))
	}
	return PCM{Data: mono, SampleRate: rate}, nil
}

// ToTelephony converts pcm to 8kHz mu-law frames ready for a media stream.
func ToTelephony(pcm PCM) [][]byte {
	resampled := Resample(pcm.Data, pcm.SampleRate, TelephonySampleRate)
	return Frames(EncodeMulaw(resampled), FrameBytes)
}
