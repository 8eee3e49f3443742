package openapi_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aretw0/nodegate/pkg/openapi"
	"github.com/aretw0/nodegate/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var infos = []workflow.Info{
	{
		Name: "txt2img",
		Inputs: map[string]map[string]string{
			"sampler": {"seed": "int", "cfg": "float"},
			"prompt":  {"text": "str"},
			"flags":   {"tiled": "bool", "loras": "list", "extra": "dict"},
		},
		Outputs: []string{"image"},
	},
	{Name: "noop", Inputs: map[string]map[string]string{}},
}

func TestGenerate_IsValid(t *testing.T) {
	doc := openapi.Generate(infos, openapi.Options{Title: "test", Version: "1.0.0"})
	require.NoError(t, doc.Validate(context.Background()))

	assert.Equal(t, "test", doc.Info.Title)
	assert.NotNil(t, doc.Paths.Value("/connect/workflows/txt2img"))
	assert.NotNil(t, doc.Paths.Value("/connect/workflows/noop"))
	assert.Equal(t, 2, doc.Paths.Len())
}

func TestGenerate_RequestSchema(t *testing.T) {
	doc := openapi.Generate(infos, openapi.Options{})
	op := doc.Paths.Value("/connect/workflows/txt2img").Post
	require.NotNil(t, op)
	assert.Equal(t, "execute_txt2img", op.OperationID)

	body := op.RequestBody.Value
	assert.True(t, body.Required)
	schema := body.Content.Get("application/json").Schema.Value
	assert.Equal(t, []string{"flags", "prompt", "sampler"}, schema.Required)

	sampler := schema.Properties["sampler"].Value
	require.Len(t, sampler.OneOf, 2)
	fields := sampler.OneOf[0].Value
	assert.Equal(t, []string{"cfg", "seed"}, fields.Required)
	assert.True(t, fields.Properties["seed"].Value.Type.Is("integer"))
	assert.True(t, fields.Properties["cfg"].Value.Type.Is("number"))

	disabled := sampler.OneOf[1].Value
	assert.True(t, disabled.Type.Is("boolean"))
	assert.Equal(t, []any{false}, disabled.Enum)
}

func TestGenerate_ResponseSchema(t *testing.T) {
	doc := openapi.Generate(infos, openapi.Options{})
	op := doc.Paths.Value("/connect/workflows/txt2img").Post

	ok := op.Responses.Status(200)
	require.NotNil(t, ok)
	schema := ok.Value.Content.Get("application/json").Schema.Value
	require.Contains(t, schema.Properties, "image")
	assert.Len(t, schema.Properties["image"].Value.OneOf, 2)

	assert.NotNil(t, op.Responses.Status(404))
	assert.NotNil(t, op.Responses.Status(500))
}

func TestGenerate_Prefix(t *testing.T) {
	doc := openapi.Generate(infos[:1], openapi.Options{Prefix: "/api/"})
	assert.NotNil(t, doc.Paths.Value("/api/connect/workflows/txt2img"))
}

func TestSchemaFor(t *testing.T) {
	tests := map[string]string{
		"int":   "integer",
		"float": "number",
		"str":   "string",
		"bool":  "boolean",
		"list":  "array",
		"dict":  "string",
		"null":  "string",
	}
	for in, want := range tests {
		assert.True(t, openapi.SchemaFor(in).Type.Is(want), in)
	}
	assert.True(t, openapi.SchemaFor("list").Items.Value.Type.Is("string"))
}

func TestGenerate_MarshalsToJSON(t *testing.T) {
	data, err := json.Marshal(openapi.Generate(infos, openapi.Options{}))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "3.0.3", raw["openapi"])
	assert.Contains(t, raw["paths"], "/connect/workflows/txt2img")
}
