package mcp

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/dshills/codesearch-mcp/internal/indexer"
	"github.com/dshills/codesearch-mcp/internal/scope"
	"github.com/dshills/codesearch-mcp/internal/searcher"
)

const (
	// ServerName is the MCP server name
	ServerName = "codesearch-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	resolver *scope.Resolver
	store    *indexer.Store
	searcher *searcher.Searcher
	logger   *logrus.Logger
}

// NewServer creates a new MCP server instance over an existing index store
func NewServer(resolver *scope.Resolver, store *indexer.Store, srch *searcher.Searcher, logger *logrus.Logger) (*Server, error) {
	if resolver == nil || store == nil || srch == nil {
		return nil, fmt.Errorf("resolver, store and searcher are required")
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp:      mcpServer,
		resolver: resolver,
		store:    store,
		searcher: srch,
		logger:   logger,
	}

	s.registerTools()

	return s, nil
}

// Serve runs the MCP protocol on stdio and blocks until ctx is cancelled or
// stdin is closed
func (s *Server) Serve(ctx context.Context) error {
	return s.ServeIO(ctx, os.Stdin, os.Stdout)
}

// ServeIO runs the MCP protocol over the given streams
func (s *Server) ServeIO(ctx context.Context, in io.Reader, out io.Writer) error {
	errWriter := s.logger.WriterLevel(logrus.ErrorLevel)
	defer func() { _ = errWriter.Close() }()

	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(errWriter, "", 0))

	s.logger.WithField("root", s.resolver.Root()).Info("MCP server ready, listening on stdio")
	return stdio.Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchTool(), s.handleSearch)
	s.mcp.AddTool(indexTool(), s.handleIndex)
	s.mcp.AddTool(indexStatusTool(), s.handleIndexStatus)
}
