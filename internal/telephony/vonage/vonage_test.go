// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_vonage_telephony

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vng "github.com/vonage/vonage-go-sdk"

	internal_telephony "github.com/rapidaai/callbridge/internal/telephony"
	"github.com/rapidaai/callbridge/pkg/commons"
)

type fakeVoiceClient struct {
	opts     vng.CreateCallOpts
	response vng.CreateCallResponse
	apiErr   vng.GenericOpenAPIError
}

func (f *fakeVoiceClient) CreateCall(opts vng.CreateCallOpts) (vng.CreateCallResponse, vng.GenericOpenAPIError) {
	f.opts = opts
	return f.response, f.apiErr
}

func testPrivateKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// --- Constructor Tests ---

func TestNewVonage_ValidCredentials(t *testing.T) {
	caller, err := NewVonage(commons.NewNopLogger(), "app-id", testPrivateKeyPEM(t))
	require.NoError(t, err)
	assert.Equal(t, "vonage", caller.Name())
}

func TestNewVonage_MissingCredentials(t *testing.T) {
	_, err := NewVonage(commons.NewNopLogger(), "", testPrivateKeyPEM(t))
	assert.Error(t, err)

	_, err = NewVonage(commons.NewNopLogger(), "app-id", nil)
	assert.Error(t, err)
}

func TestNewVonage_MalformedPrivateKey(t *testing.T) {
	_, err := NewVonage(commons.NewNopLogger(), "app-id", []byte("not a pem"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "vonage auth")
}

// --- PlaceOutbound Tests ---

func TestPlaceOutbound_MapsDialParameters(t *testing.T) {
	fake := &fakeVoiceClient{response: vng.CreateCallResponse{Uuid: "uuid-123"}}
	caller := &vg{logger: commons.NewNopLogger(), client: fake}

	uuid, err := caller.PlaceOutbound(context.Background(),
		"+15550002222", "+15550001111", "https://bridge.example.com/twiml", 60*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "uuid-123", uuid)

	assert.Equal(t, vng.CallTo{Type: "phone", Number: "+15550002222"}, fake.opts.To)
	assert.Equal(t, vng.CallFrom{Type: "phone", Number: "+15550001111"}, fake.opts.From)
	assert.Equal(t, []string{"https://bridge.example.com/twiml"}, fake.opts.AnswerUrl)
	assert.Equal(t, 60, fake.opts.RingingTimer)
}

func TestPlaceOutbound_MissingNumbers(t *testing.T) {
	caller := &vg{logger: commons.NewNopLogger(), client: &fakeVoiceClient{}}

	_, err := caller.PlaceOutbound(context.Background(), "", "+15550001111", "https://x/twiml", time.Minute)
	assert.ErrorIs(t, err, internal_telephony.ErrProvider)

	_, err = caller.PlaceOutbound(context.Background(), "+15550002222", "", "https://x/twiml", time.Minute)
	assert.ErrorIs(t, err, internal_telephony.ErrProvider)
}

func TestPlaceOutbound_NoUuidIsRejection(t *testing.T) {
	caller := &vg{logger: commons.NewNopLogger(), client: &fakeVoiceClient{}}

	_, err := caller.PlaceOutbound(context.Background(),
		"+15550002222", "+15550001111", "https://x/twiml", time.Minute)
	assert.ErrorIs(t, err, internal_telephony.ErrProvider)
	assert.Contains(t, err.Error(), "without uuid")
}
