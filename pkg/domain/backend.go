package domain

// Backend event types that matter for correlation.
const (
	EventExecuting      = "executing"
	EventExecutionError = "execution_error"
	EventStatus         = "status"
)

// Event is one message from the backend lifecycle stream.
type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData is the subset of event payload fields nodegate reads.
// Node is nil when the backend reports that no node is running any more.
type EventData struct {
	Node             *string `json:"node"`
	PromptID         string  `json:"prompt_id,omitempty"`
	ExceptionMessage string  `json:"exception_message,omitempty"`
	ExceptionType    string  `json:"exception_type,omitempty"`
	NodeID           string  `json:"node_id,omitempty"`
}

// Completed returns the prompt id of an "executing, no active node" event.
func (e Event) Completed() (string, bool) {
	if e.Type != EventExecuting || e.Data.Node != nil || e.Data.PromptID == "" {
		return "", false
	}
	return e.Data.PromptID, true
}

// Failed returns the prompt id and message of an execution error event.
func (e Event) Failed() (string, string, bool) {
	if e.Type != EventExecutionError || e.Data.PromptID == "" {
		return "", "", false
	}
	msg := e.Data.ExceptionMessage
	if msg == "" {
		msg = "execution failed"
	}
	if e.Data.NodeID != "" {
		msg = "node " + e.Data.NodeID + ": " + msg
	}
	return e.Data.PromptID, msg, true
}

// ArtifactRef locates a file produced by a node.
type ArtifactRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput lists the artifacts a node produced.
type NodeOutput struct {
	Images []ArtifactRef `json:"images,omitempty"`
}

// HistoryStatus is the execution status recorded in history.
type HistoryStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

// HistoryEntry is the backend record of one executed prompt.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  HistoryStatus         `json:"status"`
}

// Done reports whether the entry describes a finished execution.
func (h HistoryEntry) Done() bool {
	return h.Status.Completed || h.Status.StatusStr == "success" || h.Status.StatusStr == "error"
}
