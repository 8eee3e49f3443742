package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aretw0/nodegate/internal/logging"
	"github.com/aretw0/nodegate/pkg/domain"
	"github.com/aretw0/nodegate/pkg/executor"
	"github.com/aretw0/nodegate/pkg/openapi"
	"github.com/aretw0/nodegate/pkg/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodyBytes bounds request bodies; templates and base64 file inputs are large.
const maxBodyBytes = 64 << 20

// Templates is the part of the workflow store served over HTTP.
type Templates interface {
	Save(ctx context.Context, name string, graph domain.Graph) error
	Delete(ctx context.Context, name string) error
	Describe(name string) (workflow.Info, error)
	Infos() []workflow.Info
	CachedNodes() []domain.CachedNode
}

// Executor runs templates.
type Executor interface {
	Execute(ctx context.Context, name string, params map[string]any) (executor.Result, error)
}

// Server exposes the template collection and execution over HTTP.
type Server struct {
	Templates Templates
	Executor  Executor
	Streams   *StreamManager

	logger   *slog.Logger
	version  string
	gatherer prometheus.Gatherer
	health   func() error
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by /connect/info and the OpenAPI document.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithMetrics serves the gatherer on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithHealthCheck makes /health report 503 while check returns an error.
func WithHealthCheck(check func() error) Option {
	return func(s *Server) {
		s.health = check
	}
}

// WithStreams shares a StreamManager, so other components can publish template events.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.Streams = sm
	}
}

// NewServer creates a Server.
func NewServer(templates Templates, exec Executor, opts ...Option) *Server {
	s := &Server{
		Templates: templates,
		Executor:  exec,
		logger:    logging.NewNop(),
		version:   "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager(s.logger)
	}
	return s
}

// NewHandler creates the HTTP handler for the template collection.
func NewHandler(templates Templates, exec Executor, opts ...Option) http.Handler {
	return NewServer(templates, exec, opts...).Handler()
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/connect", func(r chi.Router) {
		r.Get("/workflows", s.ListWorkflows)
		r.Put("/workflows", s.SaveWorkflow)
		r.Get("/workflows/{name}", s.GetWorkflow)
		r.Post("/workflows/{name}", s.ExecuteWorkflow)
		r.Delete("/workflows/{name}", s.DeleteWorkflow)
		r.Get("/workflow/cache_nodes", s.GetCachedNodes)
		r.Get("/openapi.json", s.GetOpenAPI)
		r.Get("/events", s.SubscribeEvents)
		r.Get("/info", s.GetInfo)
	})
	r.Get("/health", s.GetHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type saveRequest struct {
	Name     string          `json:"name"`
	Workflow json.RawMessage `json:"workflow"`
}

// SaveWorkflow handles PUT /connect/workflows.
func (s *Server) SaveWorkflow(w http.ResponseWriter, r *http.Request) {
	var body saveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid request body")
		s.logger.Warn("SaveWorkflow: Invalid request body", "err", err)
		return
	}
	if len(body.Workflow) == 0 {
		s.fail(w, http.StatusBadRequest, "Missing workflow")
		return
	}
	graph, err := domain.ParseGraph(body.Workflow)
	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Sprintf("Invalid workflow: %v", err))
		return
	}

	if err := s.Templates.Save(r.Context(), body.Name, graph); err != nil {
		s.writeError(w, "SaveWorkflow", err)
		return
	}
	s.logger.Info("Workflow saved", "workflow", body.Name, "nodes", graph.Len())
	s.Streams.Broadcast("saved:" + body.Name)
	s.reply(w, map[string]any{"status": "success", "message": fmt.Sprintf("Workflow '%s' saved.", body.Name)})
}

// DeleteWorkflow handles DELETE /connect/workflows/{name}.
func (s *Server) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.Templates.Delete(r.Context(), name); err != nil {
		s.writeError(w, "DeleteWorkflow", err)
		return
	}
	s.logger.Info("Workflow deleted", "workflow", name)
	s.Streams.Broadcast("deleted:" + name)
	s.reply(w, map[string]any{"status": "success", "message": fmt.Sprintf("Workflow '%s' deleted.", name)})
}

// ExecuteWorkflow handles POST /connect/workflows/{name}.
func (s *Server) ExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	params, err := decodeParams(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid request body")
		s.logger.Warn("ExecuteWorkflow: Invalid request body", "workflow", name, "err", err)
		return
	}

	s.logger.Info("Running workflow", "workflow", name)
	result, err := s.Executor.Execute(r.Context(), name, params)
	if err != nil {
		s.writeError(w, "ExecuteWorkflow", err)
		return
	}
	s.reply(w, map[string]any{"status": "success", "workflow": name, "result": result})
}

// decodeParams reads the execute payload. An empty body means no parameters.
// Numbers stay json.Number so integers reach the backend as integers.
func decodeParams(body io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	// per-request backend tokens are not supported; drop the field instead of
	// rejecting it as an unknown tag
	delete(params, "_token")
	return params, nil
}

// ListWorkflows handles GET /connect/workflows.
func (s *Server) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	s.reply(w, map[string]any{"status": "success", "workflows": s.Templates.Infos()})
}

// GetWorkflow handles GET /connect/workflows/{name}.
func (s *Server) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, err := s.Templates.Describe(name)
	if err != nil {
		s.writeError(w, "GetWorkflow", err)
		return
	}
	s.reply(w, map[string]any{"status": "success", "workflow": info})
}

// GetCachedNodes handles GET /connect/workflow/cache_nodes.
func (s *Server) GetCachedNodes(w http.ResponseWriter, r *http.Request) {
	s.reply(w, map[string]any{"status": "success", "nodes": s.Templates.CachedNodes()})
}

// GetOpenAPI handles GET /connect/openapi.json.
func (s *Server) GetOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc := openapi.Generate(s.Templates.Infos(), openapi.Options{Title: "nodegate", Version: s.version})
	s.reply(w, doc)
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(); err != nil {
			s.write(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "message": err.Error()})
			return
		}
	}
	s.reply(w, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /connect/info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.reply(w, map[string]any{
		"app":       "nodegate-http",
		"version":   s.version,
		"workflows": len(s.Templates.Infos()),
	})
}

// SubscribeEvents handles the GET /connect/events request (SSE). Subscribers receive
// one message per template change.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe()
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// StreamManager fans template events out to SSE subscribers.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[chan string]struct{}
	logger      *slog.Logger
}

func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[chan string]struct{}),
		logger:      logger,
	}
}

func (sm *StreamManager) Subscribe() (<-chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	sm.subscribers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			delete(sm.subscribers, ch)
			close(ch)
		})
	}
}

// Subscribers returns the number of connected subscribers.
func (sm *StreamManager) Subscribers() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers)
}

func (sm *StreamManager) Broadcast(msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers {
		select {
		case ch <- msg:
		default:
			// Drop message if channel is full (slow client)
			sm.logger.Warn("SSE: Client buffer full, dropping message")
		}
	}
}

// -- Helpers --

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrTemplateNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidName):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error(op+" failed", "err", err)
	} else {
		s.logger.Warn(op+" rejected", "err", err, "status", status)
	}
	s.fail(w, status, err.Error())
}

func (s *Server) fail(w http.ResponseWriter, status int, message string) {
	s.write(w, status, map[string]string{"status": "error", "message": message})
}

func (s *Server) reply(w http.ResponseWriter, v any) {
	s.write(w, http.StatusOK, v)
}

func (s *Server) write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "err", err)
	}
}
