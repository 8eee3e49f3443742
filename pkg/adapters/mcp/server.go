package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/nodegate/internal/logging"
	"github.com/aretw0/nodegate/pkg/domain"
	"github.com/aretw0/nodegate/pkg/executor"
	"github.com/aretw0/nodegate/pkg/workflow"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ResourceURI is the resource listing every template and its call surface.
const ResourceURI = "nodegate://workflows"

// ExecuteResponse is the structured result of execute_workflow.
type ExecuteResponse struct {
	Workflow string         `json:"workflow" jsonschema_description:"The executed template"`
	Result   map[string]any `json:"result" jsonschema_description:"Artifacts per output tag, base64 encoded"`
}

// Templates is the read side of the workflow store.
type Templates interface {
	Describe(name string) (workflow.Info, error)
	Infos() []workflow.Info
}

// Executor runs templates.
type Executor interface {
	Execute(ctx context.Context, name string, params map[string]any) (executor.Result, error)
}

// Server exposes the template collection as an MCP Server.
type Server struct {
	templates Templates
	exec      Executor
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

// NewServer creates a new MCP Server instance.
func NewServer(templates Templates, exec Executor, version string, opts ...Option) *Server {
	s := &Server{
		templates: templates,
		exec:      exec,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("nodegate-mcp", version),
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

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("Shutdown signal received, shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: list_workflows
	s.mcpServer.AddTool(mcp.NewTool("list_workflows",
		mcp.WithDescription("List every template with its input tags (typed fields) and output tags."),
	), s.handleList)

	// TOOL: get_workflow
	s.mcpServer.AddTool(mcp.NewTool("get_workflow",
		mcp.WithDescription("Describe one template: its input tags and output tags."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Template name")),
	), s.handleGet)

	// TOOL: execute_workflow
	executeTool := mcp.NewTool("execute_workflow",
		mcp.WithDescription("Run a template. params maps each input tag to an object of field values, or to false to remove the tagged nodes."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Template name")),
		mcp.WithString("params", mcp.Description(`JSON object of parameters, e.g. {"prompt": {"text": "a dog"}}`)),
		mcp.WithOutputSchema[ExecuteResponse](),
	)
	s.mcpServer.AddTool(executeTool, mcp.NewStructuredToolHandler(s.handleExecute))
}

func (s *Server) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.templates.Infos()), nil
}

func (s *Server) handleGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := s.templates.Describe(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(info), nil
}

// jsonResult encodes v as a text result, or an error result if v cannot be encoded.
func jsonResult(v any) *mcp.CallToolResult {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode failed: %v", err))
	}
	return mcp.NewToolResultText(string(jsonBytes))
}

func (s *Server) handleExecute(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ExecuteResponse, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return ExecuteResponse{}, errors.New("name is required")
	}

	params, err := decodeParams(args["params"])
	if err != nil {
		return ExecuteResponse{}, err
	}

	s.logger.Info("MCP: Running workflow", "workflow", name)
	result, err := s.exec.Execute(ctx, name, params)
	if err != nil {
		if errors.Is(err, domain.ErrTemplateNotFound) {
			return ExecuteResponse{}, fmt.Errorf("unknown workflow: %w", err)
		}
		s.logger.Error("MCP: Execution failed", "workflow", name, "err", err)
		return ExecuteResponse{}, fmt.Errorf("execution failed: %w", err)
	}
	return ExecuteResponse{Workflow: name, Result: result}, nil
}

// decodeParams accepts params as a JSON string or as an already decoded object.
func decodeParams(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		dec := json.NewDecoder(strings.NewReader(v))
		dec.UseNumber()
		var params map[string]any
		if err := dec.Decode(&params); err != nil {
			return nil, fmt.Errorf("params must be a JSON object: %w", err)
		}
		return params, nil
	}
	return nil, fmt.Errorf("params must be a JSON object, got %s", domain.TypeName(raw))
}

func (s *Server) registerResources() {
	// EXPOSE: nodegate://workflows
	s.mcpServer.AddResource(mcp.NewResource(ResourceURI, "Workflow Templates",
		mcp.WithResourceDescription("Every template with its input and output tags"),
		mcp.WithMIMEType("application/json"),
	), s.handleResource)
}

func (s *Server) handleResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	jsonBytes, err := json.Marshal(s.templates.Infos())
	if err != nil {
		return nil, fmt.Errorf("failed to encode templates: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ResourceURI,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
