// Package mcp exposes a keel process to MCP clients: operations are submitted through the
// submit_operation tool and the committed tree is published as the keel://tree resource.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/keel/internal/logging"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/persistence/middleware"
	"github.com/aretw0/keel/pkg/tree"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// TreeURI is the resource holding the committed tree.
const TreeURI = "keel://tree"

// Kernel is the process behind the server.
type Kernel interface {
	Submit(ctx context.Context, op domain.Operation) (domain.Response, error)
	Tree() *tree.Tree
}

// Server wraps a kernel as an MCP server.
type Server struct {
	kernel    Kernel
	redactor  *middleware.Redactor
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates an MCP server named after the process version.
func NewServer(kernel Kernel, version string, opts ...Option) *Server {
	s := &Server{
		kernel:    kernel,
		redactor:  middleware.NewRedactor(middleware.DefaultSensitivePatterns),
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("keel-mcp", version),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves over SSE on port until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(fmt.Sprintf("http://localhost:%d", port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())
	httpServer := &http.Server{Addr: addr, Handler: mux}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	submitTool := mcp.NewTool("submit_operation",
		mcp.WithDescription("Run a management operation against the resource tree. Fleet operations commit on every participant or on none."),
		mcp.WithString("operation", mcp.Required(), mcp.Description("Operation name, e.g. add, remove, write-attribute, read-resource")),
		mcp.WithString("address", mcp.Required(), mcp.Description("Target address, e.g. /subsystem=datasources")),
		mcp.WithString("params", mcp.Description("JSON object of operation parameters (optional)")),
		mcp.WithOutputSchema[domain.Response](),
	)
	s.mcpServer.AddTool(submitTool, mcp.NewStructuredToolHandler(s.handleSubmit))

	s.mcpServer.AddTool(mcp.NewTool("read_tree",
		mcp.WithDescription("Read a subtree of the committed resource tree. Sensitive attributes are masked."),
		mcp.WithString("address", mcp.Description("Subtree root (default /)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		address, _ := request.GetArguments()["address"].(string)
		text, err := s.readTree(address)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(text), nil
	})
}

func (s *Server) handleSubmit(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (domain.Response, error) {
	name, _ := args["operation"].(string)
	address, _ := args["address"].(string)

	addr, err := domain.ParseAddress(address)
	if err != nil {
		return domain.Response{}, err
	}
	var params map[string]any
	if raw, ok := args["params"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return domain.Response{}, fmt.Errorf("params must be a JSON object: %w", err)
		}
	}

	op := domain.NewOperation(name, addr, params)
	resp, err := s.kernel.Submit(ctx, op)
	if err != nil {
		s.logger.WarnContext(ctx, "MCP operation not admitted", "operation", op.Name, "err", err)
		return domain.Response{}, err
	}
	return s.redactor.Response(op, resp), nil
}

func (s *Server) readTree(address string) (string, error) {
	addr, err := domain.ParseAddress(address)
	if err != nil {
		return "", err
	}
	res, err := s.kernel.Tree().Read(addr, true)
	if err != nil {
		return "", err
	}
	buf, err := json.Marshal(s.redactor.Resource(res))
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(TreeURI, "Committed resource tree",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		text, err := s.readTree("/")
		if err != nil {
			return nil, fmt.Errorf("failed to read tree: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      TreeURI,
				MIMEType: "application/json",
				Text:     text,
			},
		}, nil
	})
}
