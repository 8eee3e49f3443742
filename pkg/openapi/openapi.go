// Package openapi builds the OpenAPI document describing one execute route per template.
package openapi

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/aretw0/nodegate/pkg/workflow"
	"github.com/getkin/kin-openapi/openapi3"
)

// Options controls the document header and route prefix.
type Options struct {
	Title   string
	Version string
	// Prefix is prepended to every path, for servers mounted below a base path.
	Prefix string
}

// Generate returns the document for the given templates. Every input tag becomes a
// request property holding either an object of typed fields or false; every output
// tag becomes a response property.
func Generate(infos []workflow.Info, opts Options) *openapi3.T {
	if opts.Title == "" {
		opts.Title = "nodegate"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:   opts.Title,
			Version: opts.Version,
		},
		Paths: openapi3.NewPaths(),
	}

	prefix := strings.TrimSuffix(opts.Prefix, "/")
	for _, info := range infos {
		doc.Paths.Set(prefix+"/connect/workflows/"+info.Name, &openapi3.PathItem{
			Post: operation(info),
		})
	}
	return doc
}

func operation(info workflow.Info) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = "execute_" + info.Name
	op.Summary = info.Name
	op.Tags = []string{"workflows"}
	op.RequestBody = &openapi3.RequestBodyRef{
		Value: openapi3.NewRequestBody().
			WithRequired(true).
			WithJSONSchema(requestSchema(info.Inputs)),
	}
	op.Responses = openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{
			Value: openapi3.NewResponse().
				WithDescription("Success response").
				WithJSONSchema(responseSchema(info.Outputs)),
		}),
		openapi3.WithStatus(http.StatusNotFound, errorResponse("Template not found")),
		openapi3.WithStatus(http.StatusInternalServerError, errorResponse("Configuration or backend error")),
	)
	return op
}

func requestSchema(inputs map[string]map[string]string) *openapi3.Schema {
	schema := openapi3.NewObjectSchema()
	for _, tag := range sortedKeys(inputs) {
		fields := inputs[tag]
		group := openapi3.NewObjectSchema()
		for _, field := range sortedKeys(fields) {
			group.WithProperty(field, SchemaFor(fields[field]))
			group.Required = append(group.Required, field)
		}
		disabled := openapi3.NewBoolSchema().WithEnum(false)
		disabled.Description = fmt.Sprintf("false removes every node tagged $%s and #%s", tag, tag)

		schema.WithProperty(tag, openapi3.NewOneOfSchema(group, disabled))
		schema.Required = append(schema.Required, tag)
	}
	return schema
}

func responseSchema(outputs []string) *openapi3.Schema {
	schema := openapi3.NewObjectSchema()
	for _, name := range outputs {
		single := openapi3.NewStringSchema().WithFormat("byte")
		many := openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema().WithFormat("byte"))
		schema.WithProperty(name, openapi3.NewOneOfSchema(single, many))
	}
	return schema
}

func errorResponse(description string) *openapi3.ResponseRef {
	body := openapi3.NewObjectSchema().
		WithProperty("status", openapi3.NewStringSchema().WithEnum("error")).
		WithProperty("message", openapi3.NewStringSchema())
	return &openapi3.ResponseRef{
		Value: openapi3.NewResponse().WithDescription(description).WithJSONSchema(body),
	}
}

// SchemaFor maps a template input type name to its OpenAPI schema.
func SchemaFor(typeName string) *openapi3.Schema {
	switch typeName {
	case "int":
		return openapi3.NewIntegerSchema()
	case "float":
		return openapi3.NewFloat64Schema()
	case "bool":
		return openapi3.NewBoolSchema()
	case "list":
		return openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())
	}
	return openapi3.NewStringSchema()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
