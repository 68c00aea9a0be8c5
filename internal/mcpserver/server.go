// Package mcpserver exposes a tracking session as an MCP server so an agent
// or a review client can drive narrative extraction and the review queue
// through tools.
package mcpserver

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/worldtracker/internal/tracker"
)

// Server serves the tools of one [tracker.Session].
type Server struct {
	session *tracker.Session
	mcp     *sdk.Server
}

// New creates a Server for session. version is reported to clients.
func New(session *tracker.Session, version string) *Server {
	s := &Server{
		session: session,
		mcp: sdk.NewServer(&sdk.Implementation{
			Name:    "worldtracker",
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

// Run serves on transport until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context, transport sdk.Transport) error {
	return s.mcp.Run(ctx, transport)
}

// Connect starts a single server session on transport without blocking.
func (s *Server) Connect(ctx context.Context, transport sdk.Transport) (*sdk.ServerSession, error) {
	return s.mcp.Connect(ctx, transport, nil)
}
