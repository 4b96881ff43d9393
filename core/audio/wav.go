package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// WAVHeaderSize is the size of the canonical RIFF/WAVE header written by
// EncodeWAV and WrapPCM16.
const WAVHeaderSize = 44

var (
	ErrInvalidSampleRate = errors.New("sample rate must be positive and fit the WAV header")
	ErrNotWAV            = errors.New("not a RIFF/WAVE payload")
)

// WAVHeader is the subset of a canonical PCM WAV header the codec reads back.
type WAVHeader struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32
}

// EncodeWAV produces a mono 16-bit PCM WAV file from normalized float samples.
//
// Samples are clamped to [-1, 1]. Negative values scale by 32768 and positive
// values by 32767, truncating toward zero, so -1 maps to -32768 and 1 to 32767.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if err := checkSampleRate(sampleRate, 1); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}

	out := make([]byte, WAVHeaderSize+2*len(samples))
	putWAVHeader(out, uint32(sampleRate), 1, uint32(2*len(samples)))

	pcm := out[WAVHeaderSize:]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(floatToInt16(s)))
	}
	return out, nil
}

// WrapPCM16 prepends a WAV header to little-endian 16-bit PCM.
func WrapPCM16(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if channels <= 0 {
		channels = 1
	}
	if channels > math.MaxUint16/2 {
		return nil, fmt.Errorf("wrap pcm: too many channels: %d", channels)
	}
	if err := checkSampleRate(sampleRate, channels); err != nil {
		return nil, fmt.Errorf("wrap pcm: %w", err)
	}
	out := make([]byte, WAVHeaderSize+len(pcm))
	putWAVHeader(out, uint32(sampleRate), uint16(channels), uint32(len(pcm)))
	copy(out[WAVHeaderSize:], pcm)
	return out, nil
}

// checkSampleRate rejects rates whose byte rate would overflow the 32-bit
// header field.
func checkSampleRate(sampleRate, channels int) error {
	if sampleRate <= 0 || uint64(sampleRate)*uint64(channels)*2 > math.MaxUint32 {
		return fmt.Errorf("%w: %d", ErrInvalidSampleRate, sampleRate)
	}
	return nil
}

// DecodeWAVHeader parses the canonical 44 byte header. Payloads with extra
// chunks before "data" are rejected; use a full decoder for those.
func DecodeWAVHeader(b []byte) (WAVHeader, error) {
	if len(b) < WAVHeaderSize {
		return WAVHeader{}, fmt.Errorf("decode wav header: %w: %d bytes", ErrNotWAV, len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" ||
		string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
		return WAVHeader{}, fmt.Errorf("decode wav header: %w", ErrNotWAV)
	}

	le := binary.LittleEndian
	return WAVHeader{
		AudioFormat:   le.Uint16(b[20:22]),
		Channels:      le.Uint16(b[22:24]),
		SampleRate:    le.Uint32(b[24:28]),
		ByteRate:      le.Uint32(b[28:32]),
		BlockAlign:    le.Uint16(b[32:34]),
		BitsPerSample: le.Uint16(b[34:36]),
		DataSize:      le.Uint32(b[40:44]),
	}, nil
}

func putWAVHeader(b []byte, sampleRate uint32, channels uint16, dataSize uint32) {
	le := binary.LittleEndian
	blockAlign := channels * 2

	copy(b[0:4], "RIFF")
	le.PutUint32(b[4:8], 36+dataSize)
	copy(b[8:12], "WAVE")
	copy(b[12:16], "fmt ")
	le.PutUint32(b[16:20], 16)
	le.PutUint16(b[20:22], 1)
	le.PutUint16(b[22:24], channels)
	le.PutUint32(b[24:28], sampleRate)
	le.PutUint32(b[28:32], sampleRate*uint32(blockAlign))
	le.PutUint16(b[32:34], blockAlign)
	le.PutUint16(b[34:36], 16)
	copy(b[36:40], "data")
	le.PutUint32(b[40:44], dataSize)
}
