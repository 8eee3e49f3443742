package nodegate_test

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/nodegate"
	"github.com/aretw0/nodegate/internal/testutils"
	"github.com/aretw0/nodegate/pkg/adapters/memory"
	"github.com/aretw0/nodegate/pkg/correlator"
	"github.com/aretw0/nodegate/pkg/domain"
	"github.com/aretw0/nodegate/pkg/executor"
	"github.com/aretw0/nodegate/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const txt2img = `{
	"1": {"class_type": "Loader", "inputs": {}},
	"2": {"class_type": "Prompt", "inputs": {"text": "", "clip": ["1", 0]}, "_meta": {"title": "$prompt"}},
	"4": {"class_type": "Save", "inputs": {"images": ["2", 0]}, "_meta": {"title": "#image"}}
}`

func seeded(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.Save(context.Background(), "txt2img", []byte(txt2img)))
	return store
}

func newGateway(t *testing.T, fb *testutils.FakeBackend, opts ...nodegate.Option) *nodegate.Gateway {
	t.Helper()
	opts = append([]nodegate.Option{
		nodegate.WithTemplateStore(seeded(t)),
		nodegate.WithBackendURL(fb.URL()),
		nodegate.WithTimeout(5 * time.Second),
		nodegate.WithCorrelatorOptions(correlator.WithBackoff(10*time.Millisecond, 50*time.Millisecond, 0)),
	}, opts...)
	gw, err := nodegate.New(context.Background(), "", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func TestGateway_Execute(t *testing.T) {
	fb := testutils.NewFakeBackend(t)
	ref := fb.AddFile("out_00001_.png", []byte("png"))
	fb.AutoFinish(func(id string, g domain.Graph) map[string]domain.NodeOutput {
		return map[string]domain.NodeOutput{"4": {Images: []domain.ArtifactRef{ref}}}
	})

	gw := newGateway(t, fb)
	require.NoError(t, gw.Start(context.Background()))
	require.Eventually(t, func() bool { return gw.Healthy() == nil }, 2*time.Second, 5*time.Millisecond)

	result, err := gw.Execute(context.Background(), "txt2img", map[string]any{
		"prompt": map[string]any{"text": "a lighthouse"},
	})
	require.NoError(t, err)
	assert.Equal(t, executor.Result{"image": base64.StdEncoding.EncodeToString([]byte("png"))}, result)

	prompts := fb.Prompts()
	require.Len(t, prompts, 1)
	node, ok := prompts[0].Node("2")
	require.True(t, ok)
	assert.Equal(t, "a lighthouse", node.Inputs["text"])
}

func TestGateway_HealthyBeforeStart(t *testing.T) {
	gw := newGateway(t, testutils.NewFakeBackend(t))
	assert.ErrorIs(t, gw.Healthy(), nodegate.ErrBackendDisconnected)
}

func TestGateway_ExecuteUnknownTemplate(t *testing.T) {
	gw := newGateway(t, testutils.NewFakeBackend(t))
	_, err := gw.Execute(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
}

func TestGateway_CloseFailsPending(t *testing.T) {
	fb := testutils.NewFakeBackend(t)
	gw := newGateway(t, fb)
	require.NoError(t, gw.Start(context.Background()))
	require.Eventually(t, func() bool { return gw.Healthy() == nil }, 2*time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := gw.Execute(context.Background(), "txt2img", nil)
		done <- err
	}()
	fb.WaitPrompts(t, 1)
	require.NoError(t, gw.Close())

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, correlator.ErrClosed), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending execution was not released by Close")
	}
}

func TestGateway_NotWatchable(t *testing.T) {
	gw := newGateway(t, testutils.NewFakeBackend(t))
	_, err := gw.Watch(context.Background())
	assert.ErrorIs(t, err, workflow.ErrNotWatchable)
}

func TestNew_Errors(t *testing.T) {
	_, err := nodegate.New(context.Background(), "")
	assert.Error(t, err, "a directory is required without a custom store")

	_, err = nodegate.New(context.Background(), "", nodegate.WithTemplateStore(memory.NewStore()), nodegate.WithBackendURL("ftp://x"))
	assert.Error(t, err)
}

func TestNew_FileStoreDefault(t *testing.T) {
	gw, err := nodegate.New(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer gw.Close()
	assert.Empty(t, gw.Store().List())
	assert.NotNil(t, gw.Executor())
	assert.NotEmpty(t, gw.Correlator().ClientID())
}
