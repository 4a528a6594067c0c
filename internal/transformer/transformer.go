// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_transformer

import (
	"context"
	"errors"
)

// ErrUpstream marks a network or HTTP failure of the speech provider.
// Callers decide whether to surface it or degrade (speech-to-text failures
// are downgraded to a sentinel transcript by the call manager).
var ErrUpstream = errors.New("upstream speech provider failure")

// TextToSpeech synthesises text into linear PCM (16-bit LE, 8 kHz, mono).
// Synthesize blocks until the full utterance is rendered.
type TextToSpeech interface {
	Name() string
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// SpeechToText transcribes a complete WAV utterance into text.
// Transcribe blocks; there is no partial streaming.
type SpeechToText interface {
	Name() string
	Transcribe(ctx context.Context, wav []byte) (string, error)
}
