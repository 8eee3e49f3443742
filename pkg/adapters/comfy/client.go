package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aretw0/nodegate/internal/logging"
	"github.com/aretw0/nodegate/pkg/domain"
	"github.com/aretw0/nodegate/pkg/ports"
)

// maxErrorBody caps how much of a failed response is quoted in errors.
const maxErrorBody = 4 << 10

// Client implements ports.Backend against a ComfyUI-compatible HTTP/WebSocket API.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

var _ ports.Backend = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithLogger configures a logger for the Client.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// New creates a client for baseURL ("http://host:port").
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: 60 * time.Second},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

type queueRequest struct {
	Prompt   domain.Graph `json:"prompt"`
	ClientID string       `json:"client_id"`
}

type queueResponse struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors,omitempty"`
}

// Queue posts the graph to /prompt.
func (c *Client) Queue(ctx context.Context, clientID string, graph domain.Graph) (string, error) {
	body, err := json.Marshal(queueRequest{Prompt: graph, ClientID: clientID})
	if err != nil {
		return "", fmt.Errorf("failed to encode prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/prompt", nil), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out queueResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.PromptID == "" {
		return "", fmt.Errorf("backend returned no prompt id")
	}
	c.logger.Debug("Prompt queued", "prompt_id", out.PromptID, "number", out.Number)
	return out.PromptID, nil
}

// History reads /history/{id}. An empty object means the id is not finished or unknown.
func (c *Client) History(ctx context.Context, promptID string) (domain.HistoryEntry, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/history/"+url.PathEscape(promptID), nil), nil)
	if err != nil {
		return domain.HistoryEntry{}, false, err
	}

	var out map[string]domain.HistoryEntry
	if err := c.do(req, &out); err != nil {
		return domain.HistoryEntry{}, false, err
	}
	entry, ok := out[promptID]
	return entry, ok, nil
}

// View downloads an artifact from /view.
func (c *Client) View(ctx context.Context, ref domain.ArtifactRef) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/view", q), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%s %s: status %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, msg)
}
