// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_callmanager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	internal_audio "github.com/rapidaai/callbridge/internal/audio"
	internal_mediasession "github.com/rapidaai/callbridge/internal/mediasession"
	internal_telephony "github.com/rapidaai/callbridge/internal/telephony"
	internal_transformer "github.com/rapidaai/callbridge/internal/transformer"
	"github.com/rapidaai/callbridge/pkg/commons"
)

const (
	// DefaultBindTimeout bounds the wait between dialing out and the
	// provider opening the media stream back to us.
	DefaultBindTimeout      = 10 * time.Second
	DefaultBindPollInterval = 100 * time.Millisecond

	// DefaultDialTimeout is how long the provider lets the call ring.
	DefaultDialTimeout = 60 * time.Second

	// DefaultTailPerCharacter approximates residual playback latency in the
	// provider's jitter buffer after the last frame is sent. Shortening it
	// risks clipping the last syllable.
	DefaultTailPerCharacter = 50 * time.Millisecond

	// TranscriptionFailed is handed to the agent in place of a transcript
	// when the speech provider fails; the call stays usable.
	TranscriptionFailed = "[transcription failed]"

	// DefaultFarewell is spoken on shutdown for calls the agent never
	// ended explicitly.
	DefaultFarewell = "Sorry, I have to go now. Goodbye."
)

var (
	// ErrUnknownCall means the agent referenced a call the manager does not hold.
	ErrUnknownCall = errors.New("unknown call")

	// ErrInvalidState rejects an operation the call's current state does not
	// permit, including a second concurrent turn on the same call.
	ErrInvalidState = errors.New("operation not permitted in current call state")

	// ErrBindTimeout means the provider never opened a media stream for a
	// dialed call.
	ErrBindTimeout = errors.New("no media stream bound within timeout")
)

// Config carries the dialing endpoints. The manager copies it once at
// construction and every call dials with that copy; calls hold no config of
// their own.
type Config struct {
	// ToNumber is the human's phone number, FromNumber the bridge's
	// caller id.
	ToNumber   string
	FromNumber string

	// ControlUrl is fetched by the provider when the call is answered; its
	// descriptor instructs the provider to open the media WebSocket.
	ControlUrl string
}

// Manager is the registry of live calls and the agent-facing facade:
// initiate, continue, speak-only and end, plus media-stream correlation.
type Manager struct {
	logger commons.Logger
	config Config

	caller internal_telephony.Caller
	tts    internal_transformer.TextToSpeech
	stt    internal_transformer.SpeechToText

	mu           sync.Mutex
	calls        map[string]*Call
	nextSeq      uint64
	shuttingDown bool

	bindTimeout      time.Duration
	bindPollInterval time.Duration
	dialTimeout      time.Duration
	tailPerCharacter time.Duration
	farewell         string
}

// Option configures a Manager.
type Option func(*Manager)

// WithBindTimeout overrides how long initiate waits for the media stream.
func WithBindTimeout(d time.Duration) Option {
	return func(m *Manager) { m.bindTimeout = d }
}

// WithBindPollInterval overrides the binding poll cadence.
func WithBindPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.bindPollInterval = d }
}

// WithDialTimeout overrides the provider ring timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) { m.dialTimeout = d }
}

// WithTailPerCharacter overrides the per-character playback tail wait.
func WithTailPerCharacter(d time.Duration) Option {
	return func(m *Manager) { m.tailPerCharacter = d }
}

// WithFarewell overrides the shutdown farewell message.
func WithFarewell(text string) Option {
	return func(m *Manager) { m.farewell = text }
}

// New builds a Manager around a telephony caller and a speech provider pair.
func New(
	logger commons.Logger,
	caller internal_telephony.Caller,
	tts internal_transformer.TextToSpeech,
	stt internal_transformer.SpeechToText,
	config Config,
	opts ...Option,
) *Manager {
	m := &Manager{
		logger:           logger,
		config:           config,
		caller:           caller,
		tts:              tts,
		stt:              stt,
		calls:            make(map[string]*Call),
		bindTimeout:      DefaultBindTimeout,
		bindPollInterval: DefaultBindPollInterval,
		dialTimeout:      DefaultDialTimeout,
		tailPerCharacter: DefaultTailPerCharacter,
		farewell:         DefaultFarewell,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ============================================================================
// Agent-facing operations
// ============================================================================

// Initiate places an outbound call, waits for its media stream, speaks the
// opening message and returns the human's first reply. On any failure the
// call is removed from the registry and its stream closed.
//
// The call is registered before dialing so a fast-connecting stream always
// finds a pending call to bind to.
func (m *Manager) Initiate(ctx context.Context, message string) (string, string, error) {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return "", "", fmt.Errorf("%w: manager is shutting down", ErrInvalidState)
	}
	m.nextSeq++
	call := newCall(fmt.Sprintf("call-%d", m.nextSeq), m.nextSeq)
	m.calls[call.id] = call
	m.mu.Unlock()

	sid, err := m.caller.PlaceOutbound(ctx, m.config.ToNumber, m.config.FromNumber, m.config.ControlUrl, m.dialTimeout)
	if err != nil {
		m.teardown(call)
		return "", "", err
	}
	call.providerSid = sid

	if err := m.waitForBind(ctx, call); err != nil {
		m.teardown(call)
		return "", "", err
	}
	call.setState(StateActive)
	m.logger.Infow("call established", "call", call.id, "provider_sid", sid, "stream_sid", call.Session().StreamSid())

	reply, err := m.runTurn(ctx, call, message, true)
	if err != nil {
		return "", "", err
	}
	return call.id, reply, nil
}

// Continue performs one speak-and-listen turn on an established call.
func (m *Manager) Continue(ctx context.Context, callID, message string) (string, error) {
	call, err := m.lookup(callID)
	if err != nil {
		return "", err
	}
	return m.runTurn(ctx, call, message, true)
}

// SpeakOnly speaks without listening, letting the agent cover latency before
// a slow operation. The conversation history is left untouched.
func (m *Manager) SpeakOnly(ctx context.Context, callID, message string) error {
	call, err := m.lookup(callID)
	if err != nil {
		return err
	}
	_, err = m.runTurn(ctx, call, message, false)
	return err
}

// End speaks a farewell, closes the stream and removes the call. The
// farewell is appended as a final agent entry with no reply.
func (m *Manager) End(ctx context.Context, callID, message string) error {
	call, err := m.lookup(callID)
	if err != nil {
		return err
	}

	if !call.turnMu.TryLock() {
		return fmt.Errorf("%w: call %s has a turn in flight", ErrInvalidState, callID)
	}
	defer call.turnMu.Unlock()

	// Best effort: a broken stream must not keep the call in the registry.
	if call.State() == StateActive {
		if err := m.speak(ctx, call, message, true); err != nil {
			m.logger.Warnw("farewell failed", "call", callID, "error", err.Error())
		}
	}
	m.teardown(call)
	m.logger.Infow("call ended", "call", callID)
	return nil
}

// ActiveCallIDs lists live calls in mint order.
func (m *Manager) ActiveCallIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		calls = append(calls, c)
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].seq < calls[j].seq })

	ids := make([]string, len(calls))
	for i, c := range calls {
		ids[i] = c.id
	}
	return ids
}

// Call returns a live call by id, for introspection.
func (m *Manager) Call(callID string) (*Call, error) {
	return m.lookup(callID)
}

// Shutdown ends every live call with the canonical farewell and stops
// accepting new work. In-flight turns are not awaited; closing their streams
// makes pending listens fail. Errors are logged, not surfaced.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.shuttingDown = true
	ids := make([]string, 0, len(m.calls))
	for id := range m.calls {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.End(ctx, id, m.farewell); err != nil {
			m.logger.Warnw("shutdown: ending call failed", "call", id, "error", err.Error())
			if call, lookupErr := m.lookup(id); lookupErr == nil {
				m.teardown(call)
			}
		}
	}
}

// ============================================================================
// Stream correlation
// ============================================================================

// HandleStream assigns an incoming media stream to the first pending unbound
// call in mint order. Returns false when no call wants it — the caller is
// expected to discard the stream. A call that is already bound ignores
// further streams.
func (m *Manager) HandleStream(sess internal_mediasession.Session) bool {
	m.mu.Lock()
	pending := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		pending = append(pending, c)
	}
	m.mu.Unlock()
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	for _, call := range pending {
		if call.bindSession(sess) {
			m.logger.Infow("media stream bound", "call", call.id, "stream_sid", sess.StreamSid())
			return true
		}
	}
	m.logger.Warnw("no pending call for media stream", "stream_sid", sess.StreamSid())
	return false
}

// waitForBind polls until a stream is bound or the bind window closes.
func (m *Manager) waitForBind(ctx context.Context, call *Call) error {
	deadline := time.Now().Add(m.bindTimeout)
	ticker := time.NewTicker(m.bindPollInterval)
	defer ticker.Stop()

	for {
		if call.Session() != nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: call %s", ErrBindTimeout, call.id)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ============================================================================
// Turn execution
// ============================================================================

// runTurn owns one turn: optional history recording, speak, and (for full
// turns) listen. Recoverable I/O failures abort the turn and end the call;
// the speech-to-text downgrade is the one exception.
func (m *Manager) runTurn(ctx context.Context, call *Call, message string, listen bool) (string, error) {
	if !call.turnMu.TryLock() {
		return "", fmt.Errorf("%w: call %s has a turn in flight", ErrInvalidState, call.id)
	}
	defer call.turnMu.Unlock()

	if state := call.State(); state != StateActive {
		return "", fmt.Errorf("%w: call %s is %s", ErrInvalidState, call.id, state)
	}

	if err := m.speak(ctx, call, message, listen); err != nil {
		m.teardown(call)
		return "", err
	}
	if !listen {
		return "", nil
	}

	reply, err := m.listen(ctx, call)
	if err != nil {
		m.teardown(call)
		return "", err
	}
	return reply, nil
}

// speak synthesises the message and streams it at wire rate. The agent entry
// is recorded on entering the speaking state; speak-only interludes pass
// record=false and leave history untouched.
func (m *Manager) speak(ctx context.Context, call *Call, message string, record bool) error {
	call.setState(StateSpeaking)
	defer call.setState(StateActive)
	if record {
		call.appendEntry(SpeakerAgent, message)
	}

	pcm, err := m.tts.Synthesize(ctx, message)
	if err != nil {
		return err
	}

	tail := time.Duration(len([]rune(message))) * m.tailPerCharacter
	return call.Session().Speak(ctx, internal_audio.EncodePCM16ToMulaw(pcm), tail)
}

// listen collects one utterance, transcribes it and records the human entry
// on leaving the listening state. A speech-to-text failure is downgraded to
// the sentinel transcript instead of ending the call.
func (m *Manager) listen(ctx context.Context, call *Call) (string, error) {
	call.setState(StateListening)
	defer call.setState(StateActive)

	mulaw, err := call.Session().Listen(ctx)
	if err != nil {
		return "", err
	}

	wav := internal_audio.WrapPCM16AsWAV(internal_audio.DecodeMulawToPCM16(mulaw))
	text, err := m.stt.Transcribe(ctx, wav)
	if err != nil {
		if !errors.Is(err, internal_transformer.ErrUpstream) {
			return "", err
		}
		m.logger.Warnw("transcription failed, downgrading", "call", call.id, "error", err.Error())
		text = TranscriptionFailed
	}

	call.appendEntry(SpeakerHuman, text)
	return text, nil
}

// ============================================================================
// Registry upkeep
// ============================================================================

func (m *Manager) lookup(callID string) (*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[callID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCall, callID)
	}
	return call, nil
}

// teardown removes a call and closes its stream. Safe to call repeatedly.
func (m *Manager) teardown(call *Call) {
	call.setState(StateEnded)
	if sess := call.Session(); sess != nil {
		_ = sess.Close()
	}
	m.mu.Lock()
	delete(m.calls, call.id)
	m.mu.Unlock()
}
