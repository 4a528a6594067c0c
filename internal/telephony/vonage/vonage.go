// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_vonage_telephony

import (
	"context"
	"fmt"
	"time"

	vng "github.com/vonage/vonage-go-sdk"

	internal_telephony "github.com/rapidaai/callbridge/internal/telephony"
	"github.com/rapidaai/callbridge/pkg/commons"
)

// voiceCaller is the slice of the Vonage voice client we use. Pinning the
// CreateCall signature here makes an SDK change a compile error instead of a
// runtime surprise, and lets tests drive PlaceOutbound without the network.
type voiceCaller interface {
	CreateCall(opts vng.CreateCallOpts) (vng.CreateCallResponse, vng.GenericOpenAPIError)
}

var _ voiceCaller = (*vng.VoiceClient)(nil)

type vg struct {
	logger commons.Logger
	client voiceCaller
}

// NewVonage builds a Caller backed by the Vonage Voice API, authenticated
// with an application id and private key.
func NewVonage(logger commons.Logger, applicationId string, privateKey []byte) (internal_telephony.Caller, error) {
	if applicationId == "" || len(privateKey) == 0 {
		return nil, fmt.Errorf("illegal telephony config: application id and private key are required")
	}
	clientAuth, err := vng.CreateAuthFromAppPrivateKey(applicationId, privateKey)
	if err != nil {
		return nil, fmt.Errorf("illegal telephony config: vonage auth: %w", err)
	}
	return &vg{
		logger: logger,
		client: vng.NewVoiceClient(clientAuth),
	}, nil
}

func (vt *vg) Name() string {
	return "vonage"
}

// PlaceOutbound dials via the Voice API. Vonage fetches controlUrl once the
// callee answers.
func (vt *vg) PlaceOutbound(ctx context.Context, to, from, controlUrl string, timeout time.Duration) (string, error) {
	if to == "" || from == "" {
		return "", fmt.Errorf("%w: vonage: to and from numbers are required", internal_telephony.ErrProvider)
	}

	result, apiErr := vt.client.CreateCall(vng.CreateCallOpts{
		From:         vng.CallFrom{Type: "phone", Number: from},
		To:           vng.CallTo{Type: "phone", Number: to},
		AnswerUrl:    []string{controlUrl},
		RingingTimer: int(timeout.Seconds()),
	})
	if apiErr.Error() != "" {
		return "", fmt.Errorf("%w: vonage: %s", internal_telephony.ErrProvider, apiErr.Error())
	}
	if result.Uuid == "" {
		return "", fmt.Errorf("%w: vonage: call created without uuid", internal_telephony.ErrProvider)
	}

	vt.logger.Infow("placed outbound call", "provider", "vonage", "to", to, "uuid", result.Uuid)
	return result.Uuid, nil
}
