// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_mediasession

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/callbridge/pkg/commons"
)

// ============================================================================
// Test harness — the test client plays the telephony provider
// ============================================================================

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newSessionPair upgrades a loopback WebSocket and returns the session
// (wrapping the server side) plus the provider-side client connection.
func newSessionPair(t *testing.T, opts ...Option) (Session, *websocket.Conn) {
	t.Helper()

	sessionCh := make(chan Session, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		sessionCh <- New(commons.NewNopLogger(), conn, opts...)
	}))
	t.Cleanup(srv.Close)

	wsUrl := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(wsUrl, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.Close() })

	sess := <-sessionCh
	t.Cleanup(func() { _ = sess.Close() })
	return sess, peer
}

func sendStart(t *testing.T, peer *websocket.Conn, streamSid string) {
	t.Helper()
	err := peer.WriteJSON(map[string]interface{}{
		"event": "start",
		"start": map[string]string{"streamSid": streamSid, "callSid": "CA123"},
	})
	require.NoError(t, err)
}

func sendMedia(t *testing.T, peer *websocket.Conn, mulaw []byte) {
	t.Helper()
	err := peer.WriteJSON(map[string]interface{}{
		"event": "media",
		"media": map[string]string{"payload": base64.StdEncoding.EncodeToString(mulaw)},
	})
	require.NoError(t, err)
}

func fastOpts() []Option {
	return []Option{
		WithSilenceThreshold(80 * time.Millisecond),
		WithResponseTimeout(600 * time.Millisecond),
		WithFrameInterval(time.Millisecond),
	}
}

// ============================================================================
// Start correlation
// ============================================================================

func TestWaitStart_ResolvesOnStartEvent(t *testing.T) {
	sess, peer := newSessionPair(t)

	sendStart(t, peer, "MZ0001")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sess.WaitStart(ctx))
	assert.Equal(t, "MZ0001", sess.StreamSid())
}

func TestWaitStart_ContextExpires(t *testing.T) {
	sess, _ := newSessionPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sess.WaitStart(ctx), context.DeadlineExceeded)
}

func TestWaitStart_PeerClosed(t *testing.T) {
	sess, peer := newSessionPair(t)
	require.NoError(t, peer.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, sess.WaitStart(ctx), ErrPeerClosed)
}

// ============================================================================
// Paced send
// ============================================================================

func TestSpeak_EmitsFixedSizeFrames(t *testing.T) {
	sess, peer := newSessionPair(t, fastOpts()...)

	// 3 full frames plus a 40-byte remainder.
	utterance := make([]byte, 3*160+40)
	for i := range utterance {
		utterance[i] = byte(i)
	}

	done := make(chan error, 1)
	go func() {
		done <- sess.Speak(context.Background(), utterance, 0)
	}()

	var frames [][]byte
	for len(frames) < 4 {
		_, raw, err := peer.ReadMessage()
		require.NoError(t, err)

		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &msg))
		require.Equal(t, "media", msg["event"])

		payload, err := base64.StdEncoding.DecodeString(msg["media"].(map[string]interface{})["payload"].(string))
		require.NoError(t, err)
		frames = append(frames, payload)
	}
	require.NoError(t, <-done)

	for i := 0; i < 3; i++ {
		assert.Len(t, frames[i], 160, "all frames except the last are 160 bytes")
	}
	assert.Len(t, frames[3], 40)

	var rejoined []byte
	for _, f := range frames {
		rejoined = append(rejoined, f...)
	}
	assert.Equal(t, utterance, rejoined, "payload survives framing intact")
}

func TestSpeak_TailDelay(t *testing.T) {
	sess, peer := newSessionPair(t, fastOpts()...)
	go func() {
		for { // drain provider side
			if _, _, err := peer.ReadMessage(); err != nil {
				return
			}
		}
	}()

	started := time.Now()
	require.NoError(t, sess.Speak(context.Background(), make([]byte, 160), 150*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(started), 150*time.Millisecond, "tail wait runs after the final frame")
}

func TestSpeak_EmptyUtterance(t *testing.T) {
	sess, _ := newSessionPair(t, fastOpts()...)
	assert.NoError(t, sess.Speak(context.Background(), nil, 0))
}

// ============================================================================
// VAD-timeout receive
// ============================================================================

func TestListen_AccumulatesUntilSilence(t *testing.T) {
	sess, peer := newSessionPair(t, fastOpts()...)

	resultCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	go func() {
		buf, err := sess.Listen(context.Background())
		resultCh <- buf
		errCh <- err
	}()

	burst := [][]byte{{0x7f, 0x7f}, {0x00, 0x01}, {0xfe}}
	for _, b := range burst {
		sendMedia(t, peer, b)
		time.Sleep(10 * time.Millisecond)
	}
	// Then go quiet; the silence window should close the turn.

	buf := <-resultCh
	require.NoError(t, <-errCh)
	assert.Equal(t, []byte{0x7f, 0x7f, 0x00, 0x01, 0xfe}, buf)
}

func TestListen_FramesInsideSilenceWindowKeepTurnOpen(t *testing.T) {
	sess, peer := newSessionPair(t,
		WithSilenceThreshold(120*time.Millisecond),
		WithResponseTimeout(2*time.Second),
	)

	resultCh := make(chan []byte, 1)
	go func() {
		buf, err := sess.Listen(context.Background())
		require.NoError(t, err)
		resultCh <- buf
	}()

	// Five frames at ~60 ms spacing: always inside the 120 ms window, so the
	// turn must not end before all five arrive.
	for i := 0; i < 5; i++ {
		sendMedia(t, peer, []byte{byte(i)})
		time.Sleep(60 * time.Millisecond)
	}

	buf := <-resultCh
	assert.Equal(t, []byte{0, 1, 2, 3, 4}, buf)
}

func TestListen_EmptyWhenLineStaysQuiet(t *testing.T) {
	sess, _ := newSessionPair(t, fastOpts()...)

	buf, err := sess.Listen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, buf, "a silent line closes the turn with an empty buffer")
}

func TestListen_ResponseTimeout(t *testing.T) {
	sess, peer := newSessionPair(t,
		WithSilenceThreshold(100*time.Millisecond),
		WithResponseTimeout(300*time.Millisecond),
	)

	errCh := make(chan error, 1)
	go func() {
		_, err := sess.Listen(context.Background())
		errCh <- err
	}()

	// Keep talking past the response timeout.
	stop := time.After(500 * time.Millisecond)
	ticker := time.NewTicker(40 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sendMedia(t, peer, []byte{0x55})
		case <-stop:
			assert.ErrorIs(t, <-errCh, ErrListenTimeout)
			return
		case err := <-errCh:
			assert.ErrorIs(t, err, ErrListenTimeout)
			return
		}
	}
}

func TestListen_PeerCloseSurfacesAsListenTimeout(t *testing.T) {
	sess, peer := newSessionPair(t, fastOpts()...)

	errCh := make(chan error, 1)
	go func() {
		_, err := sess.Listen(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, peer.Close())

	err := <-errCh
	assert.ErrorIs(t, err, ErrListenTimeout)
}

func TestListen_DiscardsFramesReceivedWhileNotListening(t *testing.T) {
	sess, peer := newSessionPair(t, fastOpts()...)

	// Arrives outside any listen window — no barge-in, so it must vanish.
	sendMedia(t, peer, []byte{0xde, 0xad})
	time.Sleep(30 * time.Millisecond)

	buf, err := sess.Listen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, buf)
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestClose_Idempotent(t *testing.T) {
	sess, _ := newSessionPair(t)
	assert.NoError(t, sess.Close())
	assert.NoError(t, sess.Close())

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("Done should close after Close")
	}
}

func TestStopEvent_EndsSession(t *testing.T) {
	sess, peer := newSessionPair(t)
	require.NoError(t, peer.WriteJSON(map[string]interface{}{"event": "stop", "stop": map[string]string{}}))

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("stop event should end the session")
	}
}
