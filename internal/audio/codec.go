// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"bytes"
	"encoding/binary"

	"github.com/zaf/g711"
)

// Telephony audio is always 8 kHz mono.
const (
	SampleRate = 8000

	AudioBytesPerSample = 2  // LINEAR16 → 2 bytes per sample
	AudioBitsPerSample  = 16 // LINEAR16 → 16 bits per sample
	AudioPCMFormat      = 1  // WAV PCM format tag
	AudioChannels       = 1

	// FrameBytes is one 20 ms µ-law frame at 8 kHz: one byte per sample.
	FrameBytes = 160
)

// EncodePCM16ToMulaw compresses little-endian signed 16-bit PCM into G.711
// µ-law, one byte per sample. A trailing odd byte is truncated.
func EncodePCM16ToMulaw(pcm []byte) []byte {
	if len(pcm) < AudioBytesPerSample {
		return []byte{}
	}
	return g711.EncodeUlaw(pcm[:len(pcm)-len(pcm)%AudioBytesPerSample])
}

// DecodeMulawToPCM16 expands G.711 µ-law into little-endian signed 16-bit PCM,
// two bytes per input byte.
func DecodeMulawToPCM16(mulaw []byte) []byte {
	if len(mulaw) == 0 {
		return []byte{}
	}
	return g711.DecodeUlaw(mulaw)
}

// WrapPCM16AsWAV prepends the canonical 44-byte PCM WAV header (8 kHz mono,
// 16-bit) to raw PCM. Empty input yields a header-only WAV.
func WrapPCM16AsWAV(pcm []byte) []byte {
	var buf bytes.Buffer
	byteRate := SampleRate * AudioChannels * AudioBytesPerSample

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioPCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioChannels))
	binary.Write(&buf, binary.LittleEndian, uint32(SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioChannels*AudioBytesPerSample))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioBitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
