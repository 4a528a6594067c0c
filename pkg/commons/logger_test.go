// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commons

import "testing"

func TestNewApplicationLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "", "DEBUG", "bogus"} {
		logger, err := NewApplicationLogger(level)
		if err != nil {
			t.Fatalf("level %q: expected logger, got error: %v", level, err)
		}
		logger.Infow("logger smoke test", "level", level)
		logger.Debugf("debug %s", "formatting")
	}
}

func TestNewNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Warnw("should go nowhere", "key", "value")
	if err := logger.Sync(); err != nil {
		t.Errorf("nop sync should not fail: %v", err)
	}
}
