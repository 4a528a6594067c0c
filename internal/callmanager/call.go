// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_callmanager

import (
	"sync"
	"time"

	internal_mediasession "github.com/rapidaai/callbridge/internal/mediasession"
)

// State is a call's lifecycle position.
type State string

const (
	StateNew           State = "new"
	StatePendingStream State = "pending_stream" // registered, waiting for media binding
	StateActive        State = "active"         // bound, between turns
	StateSpeaking      State = "speaking"
	StateListening     State = "listening"
	StateEnded         State = "ended"
)

// Speaker identifies which side produced a history entry.
type Speaker string

const (
	SpeakerAgent Speaker = "agent"
	SpeakerHuman Speaker = "human"
)

// Entry is one half of a conversation turn.
type Entry struct {
	Speaker Speaker
	Text    string
}

// Call is one live conversation. State, history and the media session are
// guarded by mu; turnMu serialises turn operations so a call is owned by at
// most one speak/listen sequence at a time.
type Call struct {
	id      string
	seq     uint64 // mint order, drives deterministic stream correlation
	created time.Time

	// providerSid is the telephony provider's identifier for the live call.
	providerSid string

	mu      sync.Mutex
	state   State
	history []Entry
	session internal_mediasession.Session

	turnMu sync.Mutex
}

func newCall(id string, seq uint64) *Call {
	return &Call{
		id:      id,
		seq:     seq,
		created: time.Now(),
		state:   StatePendingStream,
	}
}

func (c *Call) ID() string {
	return c.id
}

func (c *Call) Created() time.Time {
	return c.created
}

func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Call) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// History returns a copy of the conversation so far.
func (c *Call) History() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Call) appendEntry(speaker Speaker, text string) {
	c.mu.Lock()
	c.history = append(c.history, Entry{Speaker: speaker, Text: text})
	c.mu.Unlock()
}

// bindSession attaches a media stream to the call. Binding is idempotent:
// an already-bound call refuses further streams.
func (c *Call) bindSession(s internal_mediasession.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil || c.state != StatePendingStream {
		return false
	}
	c.session = s
	return true
}

// Session returns the bound media stream, or nil before correlation.
func (c *Call) Session() internal_mediasession.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}
