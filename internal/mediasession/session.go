// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_mediasession

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	internal_audio "github.com/rapidaai/callbridge/internal/audio"
	"github.com/rapidaai/callbridge/pkg/commons"
)

const (
	// DefaultSilenceThreshold is how long the inbound stream must be quiet
	// before a turn is considered finished.
	DefaultSilenceThreshold = 2000 * time.Millisecond

	// DefaultResponseTimeout bounds one whole listen window.
	DefaultResponseTimeout = 60 * time.Second

	// FrameInterval paces outbound frames to wire time: 160 µ-law bytes per
	// 20 ms at 8 kHz.
	FrameInterval = 20 * time.Millisecond

	inboundChannelSize = 256
)

// ErrListenTimeout is returned when no end-of-utterance is detected within
// the response timeout, or when the peer disappears mid-listen.
var ErrListenTimeout = errors.New("no end of utterance within response timeout")

// ErrPeerClosed is returned when the media stream terminates unexpectedly.
var ErrPeerClosed = errors.New("media stream closed by peer")

// Session is one bidirectional media stream, owned by at most one call.
// Speak and Listen are never invoked concurrently — the call's turn loop
// serialises them.
type Session interface {
	ID() string
	StreamSid() string

	// WaitStart blocks until the provider's start event arrives.
	WaitStart(ctx context.Context) error

	// Speak streams µ-law audio as paced media events, then waits the extra
	// tail duration to approximate playback completion on the far end.
	Speak(ctx context.Context, mulaw []byte, tail time.Duration) error

	// Listen accumulates inbound µ-law until the silence threshold elapses
	// and returns the closed buffer. Frames received outside a Listen window
	// are discarded.
	Listen(ctx context.Context) ([]byte, error)

	// Done is closed when the peer closes or the pump dies.
	Done() <-chan struct{}

	Close() error
}

// ============================================================================
// Wire format
// ============================================================================

type message struct {
	Event     string                 `json:"event"`
	StreamSid string                 `json:"streamSid,omitempty"`
	Start     *startPayload          `json:"start,omitempty"`
	Media     *mediaPayload          `json:"media,omitempty"`
	Stop      map[string]interface{} `json:"stop,omitempty"`
}

type startPayload struct {
	StreamSid string `json:"streamSid"`
	CallSid   string `json:"callSid"`
}

type mediaPayload struct {
	Payload string `json:"payload"` // base64-encoded µ-law
}

// ============================================================================
// Session over gorilla/websocket
// ============================================================================

type webSocketSession struct {
	logger commons.Logger
	id     string
	conn   *websocket.Conn

	// writeMu serialises all writes to the socket.
	writeMu sync.Mutex

	mu        sync.Mutex
	streamSid string
	closed    bool

	startCh chan struct{}
	doneCh  chan struct{}

	// inboundCh carries decoded µ-law payloads from the read pump. The
	// listen loop drains it; outside a listen window stale frames pile up
	// here and are cleared when the next listen begins.
	inboundCh chan []byte

	silenceThreshold time.Duration
	responseTimeout  time.Duration
	frameInterval    time.Duration
}

// Option configures a session.
type Option func(*webSocketSession)

// WithSilenceThreshold overrides the end-of-utterance silence window.
func WithSilenceThreshold(d time.Duration) Option {
	return func(s *webSocketSession) { s.silenceThreshold = d }
}

// WithResponseTimeout overrides the whole-listen bound.
func WithResponseTimeout(d time.Duration) Option {
	return func(s *webSocketSession) { s.responseTimeout = d }
}

// WithFrameInterval overrides outbound pacing. Used by tests.
func WithFrameInterval(d time.Duration) Option {
	return func(s *webSocketSession) { s.frameInterval = d }
}

// New wraps an upgraded connection and starts its read pump.
func New(logger commons.Logger, conn *websocket.Conn, opts ...Option) Session {
	s := &webSocketSession{
		logger:           logger,
		id:               uuid.New().String(),
		conn:             conn,
		startCh:          make(chan struct{}),
		doneCh:           make(chan struct{}),
		inboundCh:        make(chan []byte, inboundChannelSize),
		silenceThreshold: DefaultSilenceThreshold,
		responseTimeout:  DefaultResponseTimeout,
		frameInterval:    FrameInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.readPump()
	return s
}

func (s *webSocketSession) ID() string {
	return s.id
}

func (s *webSocketSession) StreamSid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSid
}

func (s *webSocketSession) Done() <-chan struct{} {
	return s.doneCh
}

// readPump is the only reader of the socket. It records the start event,
// decodes media payloads into inboundCh, and exits on stop or peer close.
func (s *webSocketSession) readPump() {
	defer func() {
		close(s.doneCh)
		_ = s.conn.Close()
	}()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debugw("media stream read failed", "session", s.id, "error", err.Error())
			}
			return
		}

		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warnw("invalid media stream frame", "session", s.id, "error", err.Error())
			continue
		}

		switch msg.Event {
		case "start":
			s.mu.Lock()
			if s.streamSid == "" && msg.Start != nil {
				s.streamSid = msg.Start.StreamSid
				close(s.startCh)
			}
			s.mu.Unlock()

		case "media":
			if msg.Media == nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				s.logger.Warnw("undecodable media payload", "session", s.id, "error", err.Error())
				continue
			}
			select {
			case s.inboundCh <- payload:
			default:
				// Not listening and the buffer is full; the frame is stale
				// by definition.
			}

		case "stop":
			s.logger.Debugw("media stream stop", "session", s.id, "stream_sid", s.StreamSid())
			return

		default:
			s.logger.Debugw("unhandled media stream event", "session", s.id, "event", msg.Event)
		}
	}
}

func (s *webSocketSession) WaitStart(ctx context.Context) error {
	select {
	case <-s.startCh:
		return nil
	case <-s.doneCh:
		return ErrPeerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Speak slices the buffer into 160-byte frames and emits one every
// frameInterval, matching the rate the provider plays them out. After the
// final frame it waits tail to let the far-end jitter buffer drain.
func (s *webSocketSession) Speak(ctx context.Context, mulaw []byte, tail time.Duration) error {
	for offset := 0; offset < len(mulaw); offset += internal_audio.FrameBytes {
		end := offset + internal_audio.FrameBytes
		if end > len(mulaw) {
			end = len(mulaw)
		}
		if err := s.writeMedia(mulaw[offset:end]); err != nil {
			return err
		}
		if end < len(mulaw) {
			if err := s.sleep(ctx, s.frameInterval); err != nil {
				return err
			}
		}
	}
	if tail > 0 {
		if err := s.sleep(ctx, tail); err != nil {
			return err
		}
	}
	return nil
}

func (s *webSocketSession) writeMedia(frame []byte) error {
	msg := message{
		Event: "media",
		Media: &mediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrPeerClosed, err)
	}
	return nil
}

func (s *webSocketSession) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-s.doneCh:
		return ErrPeerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen drains stale frames, then accumulates inbound µ-law until no media
// arrives for silenceThreshold. The whole window is bounded by
// responseTimeout. A peer close mid-listen surfaces as ErrListenTimeout so
// the turn fails the same way a silent line does.
func (s *webSocketSession) Listen(ctx context.Context) ([]byte, error) {
	s.clearInbound()

	deadline := time.NewTimer(s.responseTimeout)
	defer deadline.Stop()
	silence := time.NewTimer(s.silenceThreshold)
	defer silence.Stop()

	var buf bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-s.doneCh:
			return nil, fmt.Errorf("%w: %v", ErrListenTimeout, ErrPeerClosed)

		case <-deadline.C:
			return nil, ErrListenTimeout

		case frame := <-s.inboundCh:
			buf.Write(frame)
			if !silence.Stop() {
				select {
				case <-silence.C:
				default:
				}
			}
			silence.Reset(s.silenceThreshold)

		case <-silence.C:
			return buf.Bytes(), nil
		}
	}
}

// clearInbound discards frames that arrived outside a listen window.
func (s *webSocketSession) clearInbound() {
	for {
		select {
		case <-s.inboundCh:
		default:
			return
		}
	}
}

// Close is idempotent. It tears the socket down; the read pump notices and
// closes doneCh.
func (s *webSocketSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()
	return s.conn.Close()
}
