// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// callbridge places outbound phone calls on behalf of an agent: it speaks
// the agent's text to the callee, listens for the spoken reply and hands the
// transcript back. The agent drives it over MCP on stdio while the control
// server faces the telephony provider.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	internal_agent "github.com/rapidaai/callbridge/internal/agent"
	internal_callmanager "github.com/rapidaai/callbridge/internal/callmanager"
	internal_config "github.com/rapidaai/callbridge/internal/config"
	internal_server "github.com/rapidaai/callbridge/internal/server"
	internal_telephony "github.com/rapidaai/callbridge/internal/telephony"
	internal_twilio_telephony "github.com/rapidaai/callbridge/internal/telephony/twilio"
	internal_vonage_telephony "github.com/rapidaai/callbridge/internal/telephony/vonage"
	internal_transformer_deepgram "github.com/rapidaai/callbridge/internal/transformer/deepgram"
	"github.com/rapidaai/callbridge/pkg/commons"
	"github.com/rapidaai/callbridge/pkg/utils"
)

func main() {
	vConfig, err := internal_config.InitConfig()
	if err != nil {
		log.Fatalf("reading config failed: %v", err)
	}
	cfg, err := internal_config.GetApplicationConfig(vConfig)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := commons.NewApplicationLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("building logger failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	publicHost, err := cfg.PublicHost()
	if err != nil {
		log.Fatalf("invalid public url: %v", err)
	}

	caller, err := newCaller(logger, cfg)
	if err != nil {
		log.Fatalf("telephony setup failed: %v", err)
	}
	tts, err := internal_transformer_deepgram.NewDeepgramTextToSpeech(logger, cfg.DeepgramApiKey,
		internal_transformer_deepgram.WithVoice(cfg.TTSVoice))
	if err != nil {
		log.Fatalf("speech setup failed: %v", err)
	}
	stt, err := internal_transformer_deepgram.NewDeepgramSpeechToText(logger, cfg.DeepgramApiKey,
		internal_transformer_deepgram.WithModel(cfg.STTModel))
	if err != nil {
		log.Fatalf("speech setup failed: %v", err)
	}

	manager := internal_callmanager.New(logger, caller, tts, stt, internal_callmanager.Config{
		ToNumber:   cfg.ToNumber,
		FromNumber: cfg.FromNumber,
		ControlUrl: strings.TrimRight(cfg.PublicUrl, "/") + "/twiml",
	})
	controlServer := internal_server.New(logger, publicHost, manager)
	agentService := internal_agent.New(logger, manager)

	logger.Infow("callbridge starting",
		"port", cfg.Port,
		"public_host", publicHost,
		"from", cfg.FromNumber,
		"to", cfg.ToNumber,
		"telephony", caller.Name(),
		"tts", tts.Name(),
		"stt", stt.Name(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return controlServer.Run(fmt.Sprintf(":%d", cfg.Port))
	})
	g.Go(func() error {
		// stdio closes when the agent disconnects; treat it as shutdown.
		err := agentService.ServeStdio()
		stop()
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		manager.Shutdown(shutdownCtx)
		return controlServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Errorf("exited with error: %v", err)
	}
}

// newCaller picks the outbound dialer the config selected and builds it with
// that provider's credential set.
func newCaller(logger commons.Logger, cfg *internal_config.AppConfig) (internal_telephony.Caller, error) {
	switch cfg.TelephonyProvider {
	case "vonage":
		privateKey, err := os.ReadFile(cfg.VonagePrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading vonage private key: %w", err)
		}
		return internal_vonage_telephony.NewVonage(logger, cfg.VonageApplicationId, privateKey)
	default:
		logger.Debugw("using twilio telephony", "account_sid", utils.Mask(cfg.TwilioAccountSid))
		return internal_twilio_telephony.NewTwilio(logger, cfg.TwilioAccountSid, cfg.TwilioAuthToken)
	}
}
