// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_transformer_deepgram

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"

	internal_transformer "github.com/rapidaai/callbridge/internal/transformer"
	"github.com/rapidaai/callbridge/pkg/commons"
)

const (
	defaultBaseUrl = "https://api.deepgram.com"
	defaultVoice   = "aura-asteria-en"
	defaultModel   = "nova-2"
)

type deepgramOption struct {
	logger  commons.Logger
	client  *resty.Client
	baseUrl string
	key     string
	voice   string
	model   string
}

// Option configures the Deepgram adapters.
type Option func(*deepgramOption)

// WithVoice overrides the Aura voice used for synthesis.
func WithVoice(voice string) Option {
	return func(o *deepgramOption) {
		if voice != "" {
			o.voice = voice
		}
	}
}

// WithModel overrides the listen model used for transcription.
func WithModel(model string) Option {
	return func(o *deepgramOption) {
		if model != "" {
			o.model = model
		}
	}
}

// WithBaseUrl points the adapters at a different API host. Used by tests.
func WithBaseUrl(baseUrl string) Option {
	return func(o *deepgramOption) {
		if baseUrl != "" {
			o.baseUrl = baseUrl
		}
	}
}

func NewDeepgramOption(logger commons.Logger, apiKey string, opts ...Option) (*deepgramOption, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("illegal speech config: deepgram api key is required")
	}
	option := &deepgramOption{
		logger:  logger,
		client:  resty.New(),
		baseUrl: defaultBaseUrl,
		key:     apiKey,
		voice:   defaultVoice,
		model:   defaultModel,
	}
	for _, opt := range opts {
		opt(option)
	}
	return option, nil
}

// ============================================================================
// Text to speech — Aura REST, native 8 kHz linear16 output
// ============================================================================

type deepgramTTS struct {
	*deepgramOption
}

func NewDeepgramTextToSpeech(logger commons.Logger, apiKey string, opts ...Option) (internal_transformer.TextToSpeech, error) {
	option, err := NewDeepgramOption(logger, apiKey, opts...)
	if err != nil {
		return nil, err
	}
	return &deepgramTTS{deepgramOption: option}, nil
}

func (*deepgramTTS) Name() string {
	return "deepgram-text-to-speech"
}

// Synthesize renders text into raw linear16 PCM at 8 kHz mono. The container
// is disabled so the response body is the bare sample stream.
func (dt *deepgramTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := dt.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Token "+dt.key).
		SetHeader("Content-Type", "application/json").
		SetQueryParams(map[string]string{
			"model":       dt.voice,
			"encoding":    "linear16",
			"sample_rate": "8000",
			"container":   "none",
		}).
		SetBody(map[string]string{"text": text}).
		Post(dt.baseUrl + "/v1/speak")
	if err != nil {
		return nil, fmt.Errorf("%w: deepgram-tts: %v", internal_transformer.ErrUpstream, err)
	}
	if resp.IsError() {
		dt.logger.Errorf("deepgram-tts: synthesis failed status=%d body=%s", resp.StatusCode(), resp.String())
		return nil, fmt.Errorf("%w: deepgram-tts: status %d", internal_transformer.ErrUpstream, resp.StatusCode())
	}
	return resp.Body(), nil
}

// ============================================================================
// Speech to text — listen REST over a closed WAV buffer
// ============================================================================

type deepgramSTT struct {
	*deepgramOption
}

func NewDeepgramSpeechToText(logger commons.Logger, apiKey string, opts ...Option) (internal_transformer.SpeechToText, error) {
	option, err := NewDeepgramOption(logger, apiKey, opts...)
	if err != nil {
		return nil, err
	}
	return &deepgramSTT{deepgramOption: option}, nil
}

func (*deepgramSTT) Name() string {
	return "deepgram-speech-to-text"
}

type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (ds *deepgramSTT) Transcribe(ctx context.Context, wav []byte) (string, error) {
	// resty rejects a nil []byte body; send an empty one instead.
	if wav == nil {
		wav = []byte{}
	}
	resp, err := ds.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Token "+ds.key).
		SetHeader("Content-Type", "audio/wav").
		SetQueryParams(map[string]string{
			"model":        ds.model,
			"smart_format": "true",
		}).
		SetBody(wav).
		Post(ds.baseUrl + "/v1/listen")
	if err != nil {
		return "", fmt.Errorf("%w: deepgram-stt: %v", internal_transformer.ErrUpstream, err)
	}
	if resp.IsError() {
		ds.logger.Errorf("deepgram-stt: transcription failed status=%d body=%s", resp.StatusCode(), resp.String())
		return "", fmt.Errorf("%w: deepgram-stt: status %d", internal_transformer.ErrUpstream, resp.StatusCode())
	}

	var payload listenResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return "", fmt.Errorf("%w: deepgram-stt: invalid response json: %v", internal_transformer.ErrUpstream, err)
	}
	if len(payload.Results.Channels) == 0 || len(payload.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return payload.Results.Channels[0].Alternatives[0].Transcript, nil
}
