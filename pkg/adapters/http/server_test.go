package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/nodegate/pkg/adapters/memory"
	"github.com/aretw0/nodegate/pkg/domain"
	"github.com/aretw0/nodegate/pkg/executor"
	"github.com/aretw0/nodegate/pkg/observability"
	"github.com/aretw0/nodegate/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const genJSON = `{
  "1": {"class_type": "CLIPTextEncode", "inputs": {"text": "a cat"}, "_meta": {"title": "$prompt"}},
  "2": {"class_type": "SaveImage", "inputs": {"images": ["1", 0]}, "_meta": {"title": "#image"}},
  "3": {"class_type": "VAELoader", "inputs": {"vae_name": "vae.pt"}, "_meta": {"title": "!cache"}}
}`

// MockExecutor records calls and returns a fixed result or error.
type MockExecutor struct {
	mu     sync.Mutex
	Calls  []map[string]any
	Result executor.Result
	Err    error
}

func (m *MockExecutor) Execute(ctx context.Context, name string, params map[string]any) (executor.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, params)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Result, nil
}

func newTestServer(t *testing.T, exec Executor, opts ...Option) (*Server, *workflow.Store) {
	t.Helper()
	store, err := workflow.NewStore(context.Background(), memory.NewStore())
	require.NoError(t, err)
	return NewServer(store, exec, opts...), store
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func save(t *testing.T, h http.Handler, name, doc string) {
	t.Helper()
	w, resp := do(t, h, "PUT", "/connect/workflows", `{"name":"`+name+`","workflow":`+doc+`}`)
	require.Equal(t, http.StatusOK, w.Code, resp)
}

func TestSaveGetDelete(t *testing.T) {
	srv, store := newTestServer(t, &MockExecutor{})
	h := srv.Handler()

	save(t, h, "gen", genJSON)
	assert.Equal(t, []string{"gen"}, store.List())

	w, resp := do(t, h, "GET", "/connect/workflows/gen", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", resp["status"])
	info := resp["workflow"].(map[string]any)
	assert.Equal(t, "gen", info["name"])
	assert.Equal(t, map[string]any{"prompt": map[string]any{"text": "str"}}, info["inputs"])
	assert.Equal(t, []any{"image"}, info["outputs"])

	w, resp = do(t, h, "DELETE", "/connect/workflows/gen", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Workflow 'gen' deleted.", resp["message"])

	w, resp = do(t, h, "GET", "/connect/workflows/gen", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "error", resp["status"])

	w, _ = do(t, h, "DELETE", "/connect/workflows/gen", "")
	assert.Equal(t, http.StatusOK, w.Code, "delete is idempotent")
}

func TestSaveWorkflow_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, &MockExecutor{})
	h := srv.Handler()

	tests := map[string]string{
		"not json":         `{`,
		"missing workflow": `{"name":"x"}`,
		"bad graph":        `{"name":"x","workflow":[1,2]}`,
		"bad name":         `{"name":"../x","workflow":{}}`,
		"empty name":       `{"name":"","workflow":{}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			w, resp := do(t, h, "PUT", "/connect/workflows", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "error", resp["status"])
			assert.NotEmpty(t, resp["message"])
		})
	}
}

func TestExecuteWorkflow(t *testing.T) {
	exec := &MockExecutor{Result: executor.Result{"image": "aW1n"}}
	srv, _ := newTestServer(t, exec)
	h := srv.Handler()

	w, resp := do(t, h, "POST", "/connect/workflows/gen", `{"prompt":{"text":"a dog","seed":12},"_token":"secret"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, "gen", resp["workflow"])
	assert.Equal(t, map[string]any{"image": "aW1n"}, resp["result"])

	require.Len(t, exec.Calls, 1)
	params := exec.Calls[0]
	assert.NotContains(t, params, "_token")
	prompt := params["prompt"].(map[string]any)
	assert.Equal(t, json.Number("12"), prompt["seed"], "numbers keep their literal form")
}

func TestExecuteWorkflow_EmptyBody(t *testing.T) {
	exec := &MockExecutor{Result: executor.Result{}}
	srv, _ := newTestServer(t, exec)

	w, _ := do(t, srv.Handler(), "POST", "/connect/workflows/gen", "")
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, exec.Calls, 1)
	assert.Nil(t, exec.Calls[0])
}

func TestExecuteWorkflow_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not found", domain.ErrTemplateNotFound, http.StatusNotFound},
		{"configuration", &domain.ConfigurationError{Tag: "prompt", Reason: "no inputs available for this tag"}, http.StatusInternalServerError},
		{"backend", &domain.BackendError{Op: "execute", Err: errors.New("CUDA out of memory")}, http.StatusInternalServerError},
		{"timeout", executor.ErrTimeout, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &MockExecutor{Err: tt.err})
			w, resp := do(t, srv.Handler(), "POST", "/connect/workflows/gen", `{}`)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "error", resp["status"])
			assert.Equal(t, tt.err.Error(), resp["message"])
		})
	}

	srv, _ := newTestServer(t, &MockExecutor{})
	w, _ := do(t, srv.Handler(), "POST", "/connect/workflows/gen", `[1]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAndCachedNodes(t *testing.T) {
	srv, _ := newTestServer(t, &MockExecutor{})
	h := srv.Handler()
	save(t, h, "gen", genJSON)
	save(t, h, "other", `{"1":{"class_type":"Note","inputs":{}}}`)

	w, resp := do(t, h, "GET", "/connect/workflows", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := resp["workflows"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "gen", list[0].(map[string]any)["name"])

	w, resp = do(t, h, "GET", "/connect/workflow/cache_nodes", "")
	require.Equal(t, http.StatusOK, w.Code)
	nodes := resp["nodes"].([]any)
	require.Len(t, nodes, 1)
	node := nodes[0].(map[string]any)
	assert.Equal(t, "gen", node["workflow_name"])
	assert.NotContains(t, node, "owner")
	assert.Equal(t, "VAELoader", node["node"].(map[string]any)["class_type"])
}

func TestGetOpenAPI(t *testing.T) {
	srv, _ := newTestServer(t, &MockExecutor{}, WithVersion("1.2.3"))
	h := srv.Handler()
	save(t, h, "gen", genJSON)

	w, resp := do(t, h, "GET", "/connect/openapi.json", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1.2.3", resp["info"].(map[string]any)["version"])
	assert.Contains(t, resp["paths"], "/connect/workflows/gen")
}

func TestGetHealth(t *testing.T) {
	var unhealthy error
	srv, _ := newTestServer(t, &MockExecutor{}, WithHealthCheck(func() error { return unhealthy }))
	h := srv.Handler()

	w, resp := do(t, h, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", resp["status"])

	unhealthy = errors.New("backend event stream disconnected")
	w, resp = do(t, h, "GET", "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", resp["status"])
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	metrics.ObserveExecution("gen", observability.StatusSuccess, time.Second)

	srv, _ := newTestServer(t, &MockExecutor{}, WithMetrics(reg))
	w, _ := do(t, srv.Handler(), "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `nodegate_executions_total{status="success",workflow="gen"} 1`)

	plain, _ := newTestServer(t, &MockExecutor{})
	w, _ = do(t, plain.Handler(), "GET", "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, &MockExecutor{})
	w, _ := do(t, srv.Handler(), "OPTIONS", "/connect/workflows", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSubscribeEvents(t *testing.T) {
	srv, _ := newTestServer(t, &MockExecutor{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/connect/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ping\n", line)

	require.Eventually(t, func() bool { return srv.Streams.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	save(t, srv.Handler(), "gen", genJSON)

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: saved") {
			break
		}
	}
	assert.Equal(t, "data: saved:gen\n", line)
}

func TestStreamManager_DropsForSlowClient(t *testing.T) {
	sm := NewStreamManager(nil)
	ch, cancel := sm.Subscribe()
	for i := 0; i < 20; i++ {
		sm.Broadcast("reload")
	}
	assert.Len(t, ch, 10)

	cancel()
	cancel()
	assert.Equal(t, 0, sm.Subscribers())
}
