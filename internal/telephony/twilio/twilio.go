// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_twilio_telephony

import (
	"context"
	"fmt"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	internal_telephony "github.com/rapidaai/callbridge/internal/telephony"
	"github.com/rapidaai/callbridge/pkg/commons"
)

type twl struct {
	logger commons.Logger
	client *twilio.RestClient
}

// NewTwilio builds a Caller backed by the Twilio REST API.
func NewTwilio(logger commons.Logger, accountSid, authToken string) (internal_telephony.Caller, error) {
	if accountSid == "" || authToken == "" {
		return nil, fmt.Errorf("illegal telephony config: account sid and auth token are required")
	}
	return &twl{
		logger: logger,
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSid,
			Password: authToken,
		}),
	}, nil
}

func (tpc *twl) Name() string {
	return "twilio"
}

// PlaceOutbound dials via the v2010 Calls resource. Twilio fetches controlUrl
// with GET once the callee answers.
func (tpc *twl) PlaceOutbound(ctx context.Context, to, from, controlUrl string, timeout time.Duration) (string, error) {
	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetUrl(controlUrl)
	params.SetMethod("GET")
	params.SetTimeout(int(timeout.Seconds()))

	resp, err := tpc.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("%w: twilio: %v", internal_telephony.ErrProvider, err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("%w: twilio: call created without sid", internal_telephony.ErrProvider)
	}

	tpc.logger.Infow("placed outbound call", "provider", "twilio", "to", to, "sid", *resp.Sid)
	return *resp.Sid, nil
}
