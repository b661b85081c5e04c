package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zaf/g711"
)

// Encoding identifies how inbound raw audio bytes are encoded when they
// arrive without a container.
type Encoding string

const (
	// PCM is 16-bit little-endian linear PCM.
	PCM Encoding = "pcm"
	// ULAW is ITU-T G.711 µ-law.
	ULAW Encoding = "ulaw"
	// ALAW is ITU-T G.711 A-law.
	ALAW Encoding = "alaw"
)

// Config describes the assumed shape of raw (non-WAV) inbound audio.
type Config struct {
	Encoding   Encoding `json:"encoding"`
	SampleRate int      `json:"sample_rate"`
	Channels   int      `json:"channels"`
}

// DefaultConfig returns the canonical inbound format: 16 kHz mono PCM.
func DefaultConfig() Config {
	return Config{
		Encoding:   PCM,
		SampleRate: 16000,
		Channels:   1,
	}
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 &&
		bytes.HasPrefix(data, []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WAVE"))
}

// NormalizeToWAV converts one inbound utterance into the canonical WAV
// form the transcriber consumes. WAV input passes through after header
// validation; raw G.711 input is decoded to PCM first; raw PCM is
// wrapped as-is.
func NormalizeToWAV(data []byte, config Config) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("audio: empty payload")
	}

	if IsWAV(data) {
		if _, err := StripWAVHeader(data); err != nil {
			return nil, err
		}
		return data, nil
	}

	pcm := data
	switch config.Encoding {
	case PCM:
		// already linear
	case ULAW:
		pcm = g711.DecodeUlaw(data)
	case ALAW:
		pcm = g711.DecodeAlaw(data)
	default:
		return nil, fmt.Errorf("audio: unsupported inbound encoding %q", config.Encoding)
	}

	return PCMToWAV(pcm, config.Channels, config.SampleRate)
}

// PCMToWAV wraps PCM bytes into a WAV container (16-bit little endian),
// mono or stereo.
func PCMToWAV(pcm []byte, numChannels, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, errors.New("audio: PCM data is empty")
	}
	if numChannels <= 0 || numChannels > 2 {
		return nil, errors.New("audio: only mono (1) or stereo (2) channels supported")
	}
	if sampleRate <= 0 {
		return nil, errors.New("audio: sample rate must be positive")
	}
	if len(pcm)%(2*numChannels) != 0 {
		return nil, errors.New("audio: PCM data length doesn't match channel count")
	}

	const (
		bitsPerSample  = 16
		audioFormatPCM = 1
		subchunk1Size  = 16
	)

	blockAlign := numChannels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign
	dataSize := len(pcm)
	fileSize := 36 + dataSize // 36 = WAV header size

	buf := bytes.NewBuffer(make([]byte, 0, 44+dataSize))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(fileSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(subchunk1Size))
	binary.Write(buf, binary.LittleEndian, uint16(audioFormatPCM))
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// StripWAVHeader returns the raw PCM bytes of a WAV file's data chunk.
// Only extracts the "data" chunk and ignores other subchunks.
func StripWAVHeader(chunk []byte) ([]byte, error) {
	if !IsWAV(chunk) {
		return nil, errors.New("audio: not a WAV file")
	}

	i := 12
	for i+8 <= len(chunk) {
		chunkID := string(chunk[i : i+4])
		chunkSize := binary.LittleEndian.Uint32(chunk[i+4 : i+8])
		next := i + 8 + int(chunkSize)

		if chunkID == "data" {
			if next > len(chunk) {
				return nil, errors.New("audio: invalid WAV: data chunk exceeds buffer length")
			}
			return chunk[i+8 : next], nil
		}

		// Account for padding to even boundary
		if chunkSize%2 != 0 {
			next++
		}
		if next > len(chunk) {
			break
		}
		i = next
	}

	return nil, errors.New("audio: invalid WAV: data chunk not found")
}
