// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rapidaai/callbridge/pkg/commons"
)

// CallManager is the slice of the call manager the agent tools need.
type CallManager interface {
	Initiate(ctx context.Context, message string) (string, string, error)
	Continue(ctx context.Context, callID, message string) (string, error)
	SpeakOnly(ctx context.Context, callID, message string) error
	End(ctx context.Context, callID, message string) error
	ActiveCallIDs() []string
}

// Service exposes the call manager as MCP tools over stdio, one tool per
// manager operation.
type Service struct {
	logger  commons.Logger
	manager CallManager
	mcp     *server.MCPServer
}

// New registers the telephone tools on a fresh MCP server.
func New(logger commons.Logger, manager CallManager) *Service {
	s := &Service{
		logger:  logger,
		manager: manager,
		mcp: server.NewMCPServer(
			"callbridge",
			"1.0.0",
			server.WithToolCapabilities(false),
		),
	}

	s.mcp.AddTool(mcp.NewTool("initiate_call",
		mcp.WithDescription("Place a phone call to the configured number, speak the message aloud and return the person's spoken reply."),
		mcp.WithString("message", mcp.Required(), mcp.Description("What to say when the person answers")),
	), s.handleInitiate)

	s.mcp.AddTool(mcp.NewTool("continue_call",
		mcp.WithDescription("Speak a follow-up message on an ongoing call and return the person's reply."),
		mcp.WithString("call_id", mcp.Required(), mcp.Description("Identifier returned by initiate_call")),
		mcp.WithString("message", mcp.Required(), mcp.Description("What to say next")),
	), s.handleContinue)

	s.mcp.AddTool(mcp.NewTool("speak",
		mcp.WithDescription("Speak a message on an ongoing call without waiting for a reply. Useful before a slow operation."),
		mcp.WithString("call_id", mcp.Required(), mcp.Description("Identifier returned by initiate_call")),
		mcp.WithString("message", mcp.Required(), mcp.Description("What to say")),
	), s.handleSpeak)

	s.mcp.AddTool(mcp.NewTool("end_call",
		mcp.WithDescription("Say goodbye and hang up an ongoing call."),
		mcp.WithString("call_id", mcp.Required(), mcp.Description("Identifier returned by initiate_call")),
		mcp.WithString("message", mcp.Required(), mcp.Description("The farewell to speak before hanging up")),
	), s.handleEnd)

	s.mcp.AddTool(mcp.NewTool("active_calls",
		mcp.WithDescription("List the identifiers of ongoing calls."),
	), s.handleActiveCalls)

	return s
}

// ServeStdio blocks, serving the agent protocol on stdin/stdout.
func (s *Service) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Service) handleInitiate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := request.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	callID, reply, err := s.manager.Initiate(ctx, message)
	if err != nil {
		s.logger.Errorw("initiate_call failed", "error", err.Error())
		return mcp.NewToolResultError(fmt.Sprintf("call failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("call_id: %s\nreply: %s", callID, reply)), nil
}

func (s *Service) handleContinue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	callID, err := request.RequireString("call_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	message, err := request.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	reply, err := s.manager.Continue(ctx, callID, message)
	if err != nil {
		s.logger.Errorw("continue_call failed", "call", callID, "error", err.Error())
		return mcp.NewToolResultError(fmt.Sprintf("turn failed: %v", err)), nil
	}
	return mcp.NewToolResultText(reply), nil
}

func (s *Service) handleSpeak(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	callID, err := request.RequireString("call_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	message, err := request.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.manager.SpeakOnly(ctx, callID, message); err != nil {
		s.logger.Errorw("speak failed", "call", callID, "error", err.Error())
		return mcp.NewToolResultError(fmt.Sprintf("speak failed: %v", err)), nil
	}
	return mcp.NewToolResultText("spoken"), nil
}

func (s *Service) handleEnd(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	callID, err := request.RequireString("call_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	message, err := request.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.manager.End(ctx, callID, message); err != nil {
		s.logger.Errorw("end_call failed", "call", callID, "error", err.Error())
		return mcp.NewToolResultError(fmt.Sprintf("hangup failed: %v", err)), nil
	}
	return mcp.NewToolResultText("call ended"), nil
}

func (s *Service) handleActiveCalls(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids := s.manager.ActiveCallIDs()
	if len(ids) == 0 {
		return mcp.NewToolResultText("no active calls"), nil
	}
	return mcp.NewToolResultText(strings.Join(ids, "\n")), nil
}
