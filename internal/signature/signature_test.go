// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_signature

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signTwilio(authToken, url string, sortedPairs ...string) string {
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(url))
	for _, p := range sortedPairs {
		mac.Write([]byte(p))
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidTwilio(t *testing.T) {
	const token = "12345"
	const url = "https://bridge.example.com/twiml"
	params := map[string]string{
		"CallSid":    "CA123",
		"AccountSid": "AC456",
	}
	// Sorted by key: AccountSid then CallSid.
	sig := signTwilio(token, url, "AccountSid", "AC456", "CallSid", "CA123")

	assert.True(t, ValidTwilio(token, url, params, sig))
	assert.False(t, ValidTwilio("other-token", url, params, sig))
	assert.False(t, ValidTwilio(token, url+"?x=1", params, sig))
	assert.False(t, ValidTwilio(token, url, map[string]string{"CallSid": "CA999"}, sig))
	assert.False(t, ValidTwilio(token, url, params, "not-a-signature"))
}

func TestValidTwilio_NoParams(t *testing.T) {
	const token = "12345"
	const url = "https://bridge.example.com/twiml"
	sig := signTwilio(token, url)
	assert.True(t, ValidTwilio(token, url, nil, sig))
}

func TestValidVonage(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Now()
	ts := fmt.Sprintf("%d", now.Unix())
	body := `{"status":"answered"}`
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(ts+"|"+body)))

	assert.True(t, ValidVonage(pub, ts, body, sig, now))
	assert.False(t, ValidVonage(pub, ts, body+"x", sig, now), "tampered body")
	assert.False(t, ValidVonage(pub, ts, body, sig[:10], now), "truncated signature")

	otherPub, _, _ := ed25519.GenerateKey(nil)
	assert.False(t, ValidVonage(otherPub, ts, body, sig, now), "wrong key")
}

func TestValidVonage_ReplayWindow(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Now()
	body := "{}"

	sign := func(at time.Time) (string, string) {
		ts := fmt.Sprintf("%d", at.Unix())
		return ts, base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(ts+"|"+body)))
	}

	// Inside the window.
	ts, sig := sign(now.Add(-4 * time.Minute))
	assert.True(t, ValidVonage(pub, ts, body, sig, now))
	ts, sig = sign(now.Add(4 * time.Minute))
	assert.True(t, ValidVonage(pub, ts, body, sig, now))

	// Outside the window: correctly signed but stale.
	ts, sig = sign(now.Add(-6 * time.Minute))
	assert.False(t, ValidVonage(pub, ts, body, sig, now))
	ts, sig = sign(now.Add(6 * time.Minute))
	assert.False(t, ValidVonage(pub, ts, body, sig, now))

	assert.False(t, ValidVonage(pub, "not-a-number", body, sig, now))
}
