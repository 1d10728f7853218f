// Package mcp serves the staff triage tools over the Model Context Protocol.
package mcp

import (
	"context"
	"log/slog"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/domain/user"
	"github.com/rpggio/civicsync/internal/projection"
	"github.com/rpggio/civicsync/internal/session"
)

// Desk is the staff session the tools read from and write through.
type Desk interface {
	User() user.User
	Get(id string) (report.Report, bool)
	View(f projection.Filter) session.View
	UpdateStatus(ctx context.Context, id string, to report.Status, extra report.Extra) (*report.Report, error)
}

// Config contains server configuration.
type Config struct {
	Desk Desk
	// Verifier and Resolver authenticate HTTP callers. Without them, or in
	// stdio mode, every request acts as the desk user.
	Verifier      TokenVerifier
	Resolver      UserResolver
	TransportMode string // "stdio" or "http"
	Version       string
	Logger        *slog.Logger
	Now           func() time.Time
}

// NewServer creates and configures an MCP server with all tools and middleware.
func NewServer(cfg Config) *sdkmcp.Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}

	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "civicsync-triage",
		Version: cfg.Version,
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	registerDocResources(server)

	if cfg.TransportMode != "stdio" && cfg.Verifier != nil && cfg.Resolver != nil {
		server.AddReceivingMiddleware(authMiddleware(cfg.Verifier, cfg.Resolver))
	} else {
		server.AddReceivingMiddleware(staticUserMiddleware(cfg.Desk.User()))
	}
	server.AddReceivingMiddleware(trafficLoggingMiddleware(cfg.Logger, "inbound"))
	server.AddSendingMiddleware(trafficLoggingMiddleware(cfg.Logger, "outbound"))

	registerTools(server, &tools{desk: cfg.Desk, logger: cfg.Logger, now: cfg.Now})

	return server
}
