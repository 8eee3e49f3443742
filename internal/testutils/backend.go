package testutils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/nodegate/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// FinishFunc decides the outputs of a queued prompt. Returning nil leaves the prompt running.
type FinishFunc func(id string, graph domain.Graph) map[string]domain.NodeOutput

// FakeBackend is an in-process ComfyUI-style backend: /prompt, /history/{id}, /view and /ws.
type FakeBackend struct {
	Server *httptest.Server

	mu        sync.Mutex
	seq       int
	prompts   map[string]domain.Graph
	owners    map[string]string // prompt id -> client id
	order     []string
	history   map[string]domain.HistoryEntry
	files     map[string][]byte
	conns     map[*websocket.Conn]string
	dials     int
	autoDone  FinishFunc
	queueFail int
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewFakeBackend starts a FakeBackend that is closed when the test ends.
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()
	fb := &FakeBackend{
		prompts: make(map[string]domain.Graph),
		owners:  make(map[string]string),
		history: make(map[string]domain.HistoryEntry),
		files:   make(map[string][]byte),
		conns:   make(map[*websocket.Conn]string),
	}

	r := chi.NewRouter()
	r.Post("/prompt", fb.handlePrompt)
	r.Get("/history/{id}", fb.handleHistory)
	r.Get("/view", fb.handleView)
	r.Get("/ws", fb.handleWS)

	fb.Server = httptest.NewServer(r)
	t.Cleanup(func() {
		fb.DropConnections()
		fb.Server.Close()
	})
	return fb
}

// URL is the backend base URL.
func (fb *FakeBackend) URL() string {
	return fb.Server.URL
}

// AutoFinish completes every new prompt with the outputs fn returns. The completion
// event is sent before /prompt answers, like a backend that finishes instantly.
func (fb *FakeBackend) AutoFinish(fn FinishFunc) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.autoDone = fn
}

// FailQueue makes /prompt answer with status until reset with 0.
func (fb *FakeBackend) FailQueue(status int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.queueFail = status
}

// AddFile registers artifact bytes and returns their reference.
func (fb *FakeBackend) AddFile(name string, data []byte) domain.ArtifactRef {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.files[name] = data
	return domain.ArtifactRef{Filename: name, Type: "output"}
}

// Prompts returns the queued graphs in submission order.
func (fb *FakeBackend) Prompts() []domain.Graph {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	out := make([]domain.Graph, 0, len(fb.order))
	for _, id := range fb.order {
		out = append(out, fb.prompts[id])
	}
	return out
}

// PromptIDs returns the queued ids in submission order.
func (fb *FakeBackend) PromptIDs() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.order...)
}

// Connections is the number of open event streams.
func (fb *FakeBackend) Connections() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.conns)
}

// Dials is the number of event stream connections ever accepted.
func (fb *FakeBackend) Dials() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.dials
}

// WaitDials blocks until at least n event streams were accepted.
func (fb *FakeBackend) WaitDials(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		return fb.dials >= n && len(fb.conns) > 0
	}, 3*time.Second, 5*time.Millisecond, "event stream not connected")
}

// WaitPrompts blocks until n prompts were queued.
func (fb *FakeBackend) WaitPrompts(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(fb.PromptIDs()) >= n
	}, 3*time.Second, 5*time.Millisecond, "prompts not queued")
	return fb.PromptIDs()
}

// Finish records the outputs in history and sends the completion event.
func (fb *FakeBackend) Finish(id string, outputs map[string]domain.NodeOutput) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.record(id, outputs)
	fb.send(id, executingDone(id))
}

// FinishSilently records the outputs without sending any event, as if the
// completion happened while no stream was connected.
func (fb *FakeBackend) FinishSilently(id string, outputs map[string]domain.NodeOutput) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.record(id, outputs)
}

// Fail sends an execution error event for id.
func (fb *FakeBackend) Fail(id, nodeID, message string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.history[id] = domain.HistoryEntry{
		Outputs: map[string]domain.NodeOutput{},
		Status:  domain.HistoryStatus{StatusStr: "error"},
	}
	fb.send(id, map[string]any{
		"type": domain.EventExecutionError,
		"data": map[string]any{
			"prompt_id":         id,
			"node_id":           nodeID,
			"exception_message": message,
			"exception_type":    "RuntimeError",
		},
	})
}

// DropConnections closes every open event stream.
func (fb *FakeBackend) DropConnections() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for conn := range fb.conns {
		_ = conn.Close()
		delete(fb.conns, conn)
	}
}

func (fb *FakeBackend) record(id string, outputs map[string]domain.NodeOutput) {
	if outputs == nil {
		outputs = map[string]domain.NodeOutput{}
	}
	fb.history[id] = domain.HistoryEntry{
		Outputs: outputs,
		Status:  domain.HistoryStatus{StatusStr: "success", Completed: true},
	}
}

func executingDone(id string) map[string]any {
	return map[string]any{
		"type": domain.EventExecuting,
		"data": map[string]any{"node": nil, "prompt_id": id},
	}
}

// send writes msg to the streams of the client that queued id. The caller holds fb.mu.
func (fb *FakeBackend) send(id string, msg any) {
	owner := fb.owners[id]
	data, _ := json.Marshal(msg)
	for conn, client := range fb.conns {
		if client != owner {
			continue
		}
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}

func (fb *FakeBackend) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt   domain.Graph `json:"prompt"`
		ClientID string       `json:"client_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fb.mu.Lock()
	if fb.queueFail != 0 {
		status := fb.queueFail
		fb.mu.Unlock()
		http.Error(w, `{"error": "prompt rejected"}`, status)
		return
	}
	fb.seq++
	id := fmt.Sprintf("prompt-%d", fb.seq)
	fb.prompts[id] = req.Prompt
	fb.owners[id] = req.ClientID
	fb.order = append(fb.order, id)
	if fb.autoDone != nil {
		if outputs := fb.autoDone(id, req.Prompt); outputs != nil {
			fb.record(id, outputs)
			fb.send(id, executingDone(id))
		}
	}
	number := fb.seq
	fb.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"prompt_id": id, "number": number, "node_errors": map[string]any{}})
}

func (fb *FakeBackend) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	fb.mu.Lock()
	out := map[string]domain.HistoryEntry{}
	if entry, ok := fb.history[id]; ok {
		out[id] = entry
	}
	fb.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (fb *FakeBackend) handleView(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	data, ok := fb.files[r.URL.Query().Get("filename")]
	fb.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (fb *FakeBackend) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := r.URL.Query().Get("clientId")

	fb.mu.Lock()
	fb.conns[conn] = client
	fb.dials++
	// the real backend greets with a status event and streams binary previews
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status","data":{"status":{"exec_info":{"queue_remaining":0}}}}`))
	_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0, 0, 0, 1, 0xff})
	fb.mu.Unlock()

	// drain until the peer goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	fb.mu.Lock()
	delete(fb.conns, conn)
	fb.mu.Unlock()
	_ = conn.Close()
}
