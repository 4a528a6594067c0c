// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	internal_mediasession "github.com/rapidaai/callbridge/internal/mediasession"
	"github.com/rapidaai/callbridge/pkg/commons"
)

// defaultStartWait is how long an unbound stream may idle before it is
// discarded: the provider sends its start event immediately after
// connecting, so anything slower is spurious.
const defaultStartWait = 5 * time.Second

// StreamBinder correlates an incoming media stream with a pending call.
// A false return means nobody wants the stream.
type StreamBinder interface {
	HandleStream(internal_mediasession.Session) bool
}

// Server is the provider-facing control surface: the call descriptor, a
// health probe and the media WebSocket upgrade path.
type Server struct {
	logger commons.Logger
	binder StreamBinder

	// publicHost is the authority the provider is told to open the media
	// WebSocket against.
	publicHost string

	engine     *gin.Engine
	upgrader   websocket.Upgrader
	httpServer *http.Server

	startWait   time.Duration
	sessionOpts []internal_mediasession.Option
}

// Option configures a Server.
type Option func(*Server)

// WithStartWait overrides the spurious-stream idle window.
func WithStartWait(d time.Duration) Option {
	return func(s *Server) { s.startWait = d }
}

// WithSessionOptions forwards options to every accepted media session.
func WithSessionOptions(opts ...internal_mediasession.Option) Option {
	return func(s *Server) { s.sessionOpts = opts }
}

// New wires the control routes. publicHost is the authority of the
// configured public URL.
func New(logger commons.Logger, publicHost string, binder StreamBinder, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		logger:     logger,
		binder:     binder,
		publicHost: publicHost,
		engine:     gin.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startWait: defaultStartWait,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine.Use(gin.Recovery())
	s.engine.GET("/twiml", s.handleDescriptor)
	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/media-stream", s.handleMediaStream)
	return s
}

// Engine exposes the router for tests.
func (s *Server) Engine() http.Handler {
	return s.engine
}

// Run serves until the listener closes.
func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infow("control server listening", "addr", addr, "public_host", s.publicHost)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting upgrades and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleDescriptor serves the static call descriptor. The provider fetches
// it when the callee answers and follows it to open the media WebSocket.
func (s *Server) handleDescriptor(c *gin.Context) {
	descriptor := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Connect>
    <Stream url="wss://%s/media-stream"/>
  </Connect>
</Response>`, s.publicHost)
	c.Data(http.StatusOK, "application/xml", []byte(descriptor))
}

func (s *Server) handleStatus(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// handleMediaStream accepts every upgrade, then correlates in the
// background. The upgrade never fails for lack of a pending call: a stream
// that sends no start event is closed once the start window lapses, and a
// started stream that no call claims is closed straight away.
func (s *Server) handleMediaStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnw("media stream upgrade failed", "error", err.Error())
		return
	}

	sess := internal_mediasession.New(s.logger, conn, s.sessionOpts...)
	go s.correlate(sess)
}

func (s *Server) correlate(sess internal_mediasession.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), s.startWait)
	defer cancel()

	if err := sess.WaitStart(ctx); err != nil {
		s.logger.Warnw("discarding media stream without start event", "session", sess.ID(), "error", err.Error())
		_ = sess.Close()
		return
	}
	if !s.binder.HandleStream(sess) {
		_ = sess.Close()
	}
}
