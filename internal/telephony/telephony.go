// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_telephony

import (
	"context"
	"errors"
	"time"
)

// ErrProvider marks a rejected call-placement request.
var ErrProvider = errors.New("telephony provider rejected call placement")

// Caller places outbound PSTN calls. When the callee answers, the provider
// fetches the call descriptor from controlUrl and follows its instruction to
// open the media WebSocket back to the bridge.
type Caller interface {
	Name() string

	// PlaceOutbound dials `to` from `from` and returns the provider's call
	// identifier. timeout bounds how long the provider lets the call ring.
	PlaceOutbound(ctx context.Context, to, from, controlUrl string, timeout time.Duration) (string, error)
}
