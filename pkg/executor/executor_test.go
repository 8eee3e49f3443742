package executor_test

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/nodegate/internal/testutils"
	"github.com/aretw0/nodegate/pkg/adapters/comfy"
	"github.com/aretw0/nodegate/pkg/adapters/memory"
	"github.com/aretw0/nodegate/pkg/correlator"
	"github.com/aretw0/nodegate/pkg/domain"
	"github.com/aretw0/nodegate/pkg/executor"
	"github.com/aretw0/nodegate/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gen = `{
  "1": {"class_type": "CheckpointLoader", "inputs": {"ckpt_name": "sd.safetensors"}, "_meta": {"title": "Loader"}},
  "2": {"class_type": "CLIPTextEncode", "inputs": {"text": "a cat", "clip": ["1", 1]}, "_meta": {"title": "Prompt $prompt"}},
  "3": {"class_type": "KSampler", "inputs": {"seed": 1, "steps": 20, "model": ["1", 0], "positive": ["2", 0]}, "_meta": {"title": "$sampler(seed)"}},
  "4": {"class_type": "SaveImage", "inputs": {"images": ["3", 0]}, "_meta": {"title": "#image"}},
  "5": {"class_type": "PreviewImage", "inputs": {"images": ["3", 0]}, "_meta": {"title": "Preview #prompt"}},
  "6": {"class_type": "Upscale", "inputs": {"image": ["3", 0]}, "_meta": {"title": "Upscale !bypass"}},
  "7": {"class_type": "LoadImage", "inputs": {"image": "default.png"}, "_meta": {"title": "$input(image)"}}
}`

const shared = `{
  "1": {"class_type": "UpscaleModelLoader", "inputs": {"model_name": "4x.pth"}, "_meta": {"title": "!cache"}}
}`

// stubRunner records the submitted graph and answers with fixed outputs.
type stubRunner struct {
	mu      sync.Mutex
	graphs  []domain.Graph
	outputs map[string][]string
	block   bool
}

func (r *stubRunner) Run(ctx context.Context, graph domain.Graph) (map[string][]string, error) {
	r.mu.Lock()
	r.graphs = append(r.graphs, graph)
	r.mu.Unlock()
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.outputs, nil
}

func (r *stubRunner) last(t *testing.T) domain.Graph {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.graphs, "nothing was submitted")
	return r.graphs[len(r.graphs)-1]
}

func (r *stubRunner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.graphs)
}

func newStore(t *testing.T) *workflow.Store {
	t.Helper()
	ctx := context.Background()
	persist := memory.NewStore()
	require.NoError(t, persist.Save(ctx, "gen", []byte(gen)))
	require.NoError(t, persist.Save(ctx, "shared", []byte(shared)))

	store, err := workflow.NewStore(ctx, persist)
	require.NoError(t, err)
	return store
}

func input(t *testing.T, g domain.Graph, id, key string) any {
	t.Helper()
	n, ok := g.Node(id)
	require.True(t, ok, "node %s missing", id)
	return n.Inputs[key]
}

func TestExecute_SetsInputsAndMapsOutputs(t *testing.T) {
	runner := &stubRunner{outputs: map[string][]string{"4": {"aW1n"}}}
	ex := executor.New(newStore(t), runner)

	result, err := ex.Execute(context.Background(), "gen", map[string]any{
		"prompt": map[string]any{"text": "a dog"},
	})
	require.NoError(t, err)
	assert.Equal(t, executor.Result{"image": "aW1n"}, result)

	submitted := runner.last(t)
	assert.Equal(t, "a dog", input(t, submitted, "2", "text"))
	assert.False(t, submitted.Has("6"), "!bypass nodes never reach the backend")
	assert.True(t, submitted.Has("1001"), "cache nodes of other templates are merged")
}

func TestExecute_TemplateIsNotModified(t *testing.T) {
	store := newStore(t)
	ex := executor.New(store, &stubRunner{})

	_, err := ex.Execute(context.Background(), "gen", map[string]any{
		"prompt": map[string]any{"text": "a dog"},
	})
	require.NoError(t, err)

	g, err := store.Get("gen")
	require.NoError(t, err)
	assert.Equal(t, "a cat", input(t, g, "2", "text"))
	assert.True(t, g.Has("6"))
}

func TestExecute_FalseBypassesBothSigils(t *testing.T) {
	runner := &stubRunner{outputs: map[string][]string{"4": {"aW1n"}}}
	ex := executor.New(newStore(t), runner)

	result, err := ex.Execute(context.Background(), "gen", map[string]any{"prompt": false})
	require.NoError(t, err)
	assert.Equal(t, "aW1n", result["image"])

	submitted := runner.last(t)
	assert.False(t, submitted.Has("2"), "$prompt removed")
	assert.False(t, submitted.Has("5"), "#prompt removed")
	assert.True(t, submitted.Has("4"))
}

func TestExecute_TrueIsNoop(t *testing.T) {
	runner := &stubRunner{}
	ex := executor.New(newStore(t), runner)

	_, err := ex.Execute(context.Background(), "gen", map[string]any{"prompt": true})
	require.NoError(t, err)
	assert.True(t, runner.last(t).Has("2"))
}

func TestExecute_MultipleArtifacts(t *testing.T) {
	runner := &stubRunner{outputs: map[string][]string{
		"4": {"a", "b"},
		"5": {"p"},
		"3": {"ignored"}, // produced by a node without an output tag
	}}
	ex := executor.New(newStore(t), runner)

	result, err := ex.Execute(context.Background(), "gen", nil)
	require.NoError(t, err)
	assert.Equal(t, executor.Result{"image": []string{"a", "b"}, "prompt": "p"}, result)
}

func TestExecute_Errors(t *testing.T) {
	tests := []struct {
		name   string
		tmpl   string
		params map[string]any
		target error
	}{
		{"unknown template", "missing", nil, domain.ErrTemplateNotFound},
		{"scalar payload", "gen", map[string]any{"prompt": "a dog"}, domain.ErrConfiguration},
		{"list payload", "gen", map[string]any{"prompt": []any{"a"}}, domain.ErrConfiguration},
		{"undeclared input", "gen", map[string]any{"sampler": map[string]any{"steps": 4}}, domain.ErrConfiguration},
		{"unknown tag", "gen", map[string]any{"nope": map[string]any{"x": 1}}, domain.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{}
			ex := executor.New(newStore(t), runner)

			_, err := ex.Execute(context.Background(), tt.tmpl, tt.params)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, 0, runner.calls(), "nothing is submitted on a rejected request")
		})
	}
}

func TestExecute_ConfigurationErrorNamesTag(t *testing.T) {
	ex := executor.New(newStore(t), &stubRunner{})

	_, err := ex.Execute(context.Background(), "gen", map[string]any{"prompt": 3})
	var cfg *domain.ConfigurationError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, "prompt", cfg.Tag)
}

func TestExecute_Timeout(t *testing.T) {
	ex := executor.New(newStore(t), &stubRunner{block: true}, executor.WithTimeout(20*time.Millisecond))

	_, err := ex.Execute(context.Background(), "gen", nil)
	assert.ErrorIs(t, err, executor.ErrTimeout)
}

func TestExecute_CallerCancellationIsNotATimeout(t *testing.T) {
	ex := executor.New(newStore(t), &stubRunner{block: true}, executor.WithTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ex.Execute(ctx, "gen", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, executor.ErrTimeout)
}

func TestExecute_FileParameter(t *testing.T) {
	dir := t.TempDir()
	runner := &stubRunner{}
	ex := executor.New(newStore(t), runner, executor.WithMaterializer(executor.NewMaterializer(dir)))

	_, err := ex.Execute(context.Background(), "gen", map[string]any{
		"input": map[string]any{"image": map[string]any{
			"type":    "file",
			"name":    "cat.png",
			"content": base64.StdEncoding.EncodeToString([]byte("meow")),
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "cat.png", input(t, runner.last(t), "7", "image"))
	data, err := os.ReadFile(filepath.Join(dir, "cat.png"))
	require.NoError(t, err)
	assert.Equal(t, "meow", string(data))
}

func TestExecute_FailedFileParameterIsSkipped(t *testing.T) {
	runner := &stubRunner{}
	ex := executor.New(newStore(t), runner, executor.WithMaterializer(executor.NewMaterializer(t.TempDir())))

	_, err := ex.Execute(context.Background(), "gen", map[string]any{
		"input": map[string]any{"image": map[string]any{"type": "file", "content": "bWVvdw=="}},
	})
	require.NoError(t, err, "content without a name is skipped, not fatal")
	assert.Equal(t, "default.png", input(t, runner.last(t), "7", "image"))
}

func TestExecute_FileParameterWithoutMaterializer(t *testing.T) {
	runner := &stubRunner{}
	ex := executor.New(newStore(t), runner)

	_, err := ex.Execute(context.Background(), "gen", map[string]any{
		"input": map[string]any{"image": map[string]any{"type": "file", "name": "x.png", "content": "eA=="}},
	})
	require.NoError(t, err)
	assert.Equal(t, "default.png", input(t, runner.last(t), "7", "image"))
}

func TestExecute_NonFileMappingIsPassedThrough(t *testing.T) {
	runner := &stubRunner{}
	ex := executor.New(newStore(t), runner)

	value := map[string]any{"type": "latent", "w": 512}
	_, err := ex.Execute(context.Background(), "gen", map[string]any{
		"input": map[string]any{"image": value},
	})
	require.NoError(t, err)
	assert.Equal(t, value, input(t, runner.last(t), "7", "image"))
}

func TestMaterialize_DoesNotRun(t *testing.T) {
	runner := &stubRunner{}
	ex := executor.New(newStore(t), runner, executor.WithCacheFloor(50))

	g, err := ex.Materialize(context.Background(), "gen", map[string]any{"sampler": map[string]any{"seed": 42}})
	require.NoError(t, err)
	assert.Equal(t, 42, input(t, g, "3", "seed"))
	assert.True(t, g.Has("51"))
	assert.Equal(t, 0, runner.calls())
}

func TestExecute_EndToEnd(t *testing.T) {
	fb := testutils.NewFakeBackend(t)
	ref := fb.AddFile("dog_00001_.png", []byte("png"))

	var (
		mu   sync.Mutex
		seen domain.Graph
	)
	fb.AutoFinish(func(id string, g domain.Graph) map[string]domain.NodeOutput {
		mu.Lock()
		seen = g
		mu.Unlock()
		return map[string]domain.NodeOutput{"4": {Images: []domain.ArtifactRef{ref}}}
	})

	client, err := comfy.New(fb.URL())
	require.NoError(t, err)
	c := correlator.New(client, correlator.WithBackoff(10*time.Millisecond, 50*time.Millisecond, 0))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)

	ex := executor.New(newStore(t), c, executor.WithTimeout(5*time.Second))
	result, err := ex.Execute(context.Background(), "gen", map[string]any{
		"prompt": map[string]any{"text": "a dog"},
	})
	require.NoError(t, err)
	assert.Equal(t, executor.Result{"image": base64.StdEncoding.EncodeToString([]byte("png"))}, result)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "a dog", input(t, seen, "2", "text"))
}
