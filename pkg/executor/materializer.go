package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/nodegate/internal/logging"
	"github.com/mitchellh/mapstructure"
)

// DefaultMaxDownload caps a single URL download.
const DefaultMaxDownload = 256 << 20

// FileParam is the request payload that asks for a file to be placed in the
// backend input directory: {"type": "file", "name": "...", "content": "<base64>"}
// or {"type": "file", "url": "https://..."}.
type FileParam struct {
	Type    string `mapstructure:"type"`
	Name    string `mapstructure:"name"`
	Content string `mapstructure:"content"`
	URL     string `mapstructure:"url"`
}

// DecodeFileParam reports whether v is a file descriptor and decodes it.
func DecodeFileParam(v any) (FileParam, bool, error) {
	m, ok := v.(map[string]any)
	if !ok || m["type"] != "file" {
		return FileParam{}, false, nil
	}

	var fp FileParam
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &fp,
		TagName: "mapstructure",
	})
	if err != nil {
		return FileParam{}, true, err
	}
	if err := dec.Decode(m); err != nil {
		return FileParam{}, true, fmt.Errorf("invalid file parameter: %w", err)
	}
	return fp, true, nil
}

// Materializer writes file parameters into the backend input directory.
// Files are cached by name: an existing file with the same name is reused as is.
type Materializer struct {
	dir         string
	http        *http.Client
	maxDownload int64
	logger      *slog.Logger
}

// MaterializerOption configures a Materializer.
type MaterializerOption func(*Materializer)

// WithDownloadClient replaces the HTTP client used for URL parameters.
func WithDownloadClient(c *http.Client) MaterializerOption {
	return func(m *Materializer) {
		m.http = c
	}
}

// WithMaxDownload caps the size of a downloaded file.
func WithMaxDownload(n int64) MaterializerOption {
	return func(m *Materializer) {
		m.maxDownload = n
	}
}

// WithMaterializerLogger configures a logger for the Materializer.
func WithMaterializerLogger(logger *slog.Logger) MaterializerOption {
	return func(m *Materializer) {
		m.logger = logger
	}
}

// NewMaterializer creates a Materializer writing into dir.
func NewMaterializer(dir string, opts ...MaterializerOption) *Materializer {
	m := &Materializer{
		dir:         dir,
		http:        &http.Client{Timeout: 2 * time.Minute},
		maxDownload: DefaultMaxDownload,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Materialize places the file in the input directory and returns the file name
// the backend should be given.
func (m *Materializer) Materialize(ctx context.Context, fp FileParam) (string, error) {
	var (
		name  string
		fetch func(context.Context) ([]byte, error)
	)
	switch {
	case fp.Content != "":
		if fp.Name == "" {
			return "", errors.New("file name is required with content")
		}
		name = fp.Name
		fetch = func(context.Context) ([]byte, error) { return decodeContent(fp.Content) }
	case fp.URL != "":
		name = fp.Name
		if name == "" {
			derived, err := nameFromURL(fp.URL)
			if err != nil {
				return "", err
			}
			name = derived
		}
		fetch = func(ctx context.Context) ([]byte, error) { return m.download(ctx, fp.URL) }
	default:
		return "", errors.New("file parameter has neither content nor url")
	}

	name, err := baseName(name)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(m.dir, name)

	if _, err := os.Stat(dest); err == nil {
		m.logger.Debug("Input file already present, reusing", "file", name)
		return name, nil
	}

	data, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(m.dir, name, data); err != nil {
		return "", err
	}
	m.logger.Info("Input file written", "file", name, "bytes", len(data))
	return name, nil
}

func (m *Materializer) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid file url: %w", err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxDownload+1))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	if int64(len(data)) > m.maxDownload {
		return nil, fmt.Errorf("download %s: larger than %d bytes", rawURL, m.maxDownload)
	}
	return data, nil
}

// decodeContent accepts plain base64 or a data URI.
func decodeContent(content string) ([]byte, error) {
	if strings.HasPrefix(content, "data:") {
		if i := strings.IndexByte(content, ','); i >= 0 {
			content = content[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(content))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 content: %w", err)
	}
	return data, nil
}

func nameFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid file url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return "", fmt.Errorf("cannot derive a file name from %s", rawURL)
	}
	return name, nil
}

// baseName strips any directory part so a parameter cannot write outside the input dir.
func baseName(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return base, nil
}

func writeAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure input directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to move input file into place: %w", err)
	}
	return nil
}
