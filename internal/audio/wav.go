package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the length of a canonical PCM WAVE header.
	HeaderSize = 44
	// SpeechSampleRate is the rate synthesized speech is delivered at.
	SpeechSampleRate = 24000
)

// Format describes raw PCM samples.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// SpeechFormat is mono 16-bit PCM at 24 kHz.
func SpeechFormat() Format {
	return Format{SampleRate: SpeechSampleRate, Channels: 1, BitsPerSample: 16}
}

func (f Format) blockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

func (f Format) byteRate() int {
	return f.SampleRate * f.blockAlign()
}

func (f Format) validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 || f.BitsPerSample <= 0 || f.BitsPerSample%8 != 0 {
		return fmt.Errorf("invalid pcm format %+v", f)
	}
	return nil
}

// PCMDuration returns how many seconds of audio pcm holds.
func PCMDuration(pcm []byte, f Format) float64 {
	if f.validate() != nil {
		return 0
	}
	return float64(len(pcm)) / float64(f.byteRate())
}

// EncodeWAV wraps raw little-endian PCM samples in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	if len(pcm)%f.blockAlign() != 0 {
		return nil, fmt.Errorf("pcm length %d is not a whole number of frames", len(pcm))
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(pcm)))
	buf.WriteString("RIFF")
	le32(buf, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	le32(buf, 16)
	le16(buf, 1) // PCM
	le16(buf, uint16(f.Channels))
	le32(buf, uint32(f.SampleRate))
	le32(buf, uint32(f.byteRate()))
	le16(buf, uint16(f.blockAlign()))
	le16(buf, uint16(f.BitsPerSample))

	buf.WriteString("data")
	le32(buf, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// DecodeWAV reads a canonical 44-byte header WAVE file back into its format
// and samples.
func DecodeWAV(data []byte) (Format, []byte, error) {
	if len(data) < HeaderSize {
		return Format{}, nil, errors.New("wav data shorter than header")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, errors.New("not a RIFF/WAVE file")
	}
	if string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return Format{}, nil, errors.New("unsupported wav layout")
	}
	if binary.LittleEndian.Uint16(data[20:22]) != 1 {
		return Format{}, nil, errors.New("wav is not PCM")
	}

	f := Format{
		Channels:      int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(data[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(data[34:36])),
	}
	size := int(binary.LittleEndian.Uint32(data[40:44]))
	if size > len(data)-HeaderSize {
		return Format{}, nil, fmt.Errorf("wav data chunk claims %d bytes, have %d", size, len(data)-HeaderSize)
	}
	return f, data[HeaderSize : HeaderSize+size], nil
}

func le16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func le32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
