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
	"crypto/subtle"
	"encoding/base64"
	"sort"
	"strconv"
	"time"
)

// MaxTimestampSkew is the replay-protection window for Ed25519-signed
// webhooks.
const MaxTimestampSkew = 5 * time.Minute

// ValidTwilio verifies an X-Twilio-Signature header: HMAC-SHA1 over the full
// request URL followed by every POST parameter name and value sorted by name,
// base64-encoded.
func ValidTwilio(authToken, url string, params map[string]string, signature string) bool {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(url))
	for _, k := range keys {
		mac.Write([]byte(k))
		mac.Write([]byte(params[k]))
	}
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// ValidVonage verifies an Ed25519 webhook signature over
// `timestamp + "|" + body`, rejecting timestamps outside the replay window.
// timestamp is seconds since the epoch; signature is base64.
func ValidVonage(publicKey ed25519.PublicKey, timestamp, body, signature string, now time.Time) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew < -MaxTimestampSkew || skew > MaxTimestampSkew {
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(publicKey, []byte(timestamp+"|"+body), sig)
}
