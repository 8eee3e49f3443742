package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/nodegate/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunTemplateStoreContract runs a suite of tests to verify that a TemplateStore implementation
// adheres to the defined interface contract.
func RunTemplateStoreContract(t *testing.T, store TemplateStore) {
	ctx := context.Background()
	name := "contract-" + time.Now().Format("20060102150405")
	doc := []byte(`{"1":{"class_type":"KSampler","inputs":{"seed":7},"_meta":{"title":"$sampler"}}}`)

	t.Run("Save and Load", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, name, doc), "Save should not return error")

		loaded, err := store.Load(ctx, name)
		require.NoError(t, err, "Load should not return error")
		assert.JSONEq(t, string(doc), string(loaded))
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		updated := []byte(`{"1":{"class_type":"KSampler","inputs":{"seed":8}}}`)
		require.NoError(t, store.Save(ctx, name, updated))

		loaded, err := store.Load(ctx, name)
		require.NoError(t, err)
		assert.JSONEq(t, string(updated), string(loaded))
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+name)
		assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, name, doc))

		require.NoError(t, store.Delete(ctx, name), "Delete should not return error")

		_, err := store.Load(ctx, name)
		assert.ErrorIs(t, err, domain.ErrTemplateNotFound, "Load after Delete should return ErrTemplateNotFound")

		assert.NoError(t, store.Delete(ctx, name), "Delete of a missing template is a no-op")
	})

	t.Run("List", func(t *testing.T) {
		n1 := name + "-1"
		n2 := name + "-2"
		_ = store.Save(ctx, n1, doc)
		_ = store.Save(ctx, n2, doc)

		defer func() {
			_ = store.Delete(ctx, n1)
			_ = store.Delete(ctx, n2)
		}()

		names, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, names, n1)
		assert.Contains(t, names, n2)
		assert.NotContains(t, names, name)
	})
}
