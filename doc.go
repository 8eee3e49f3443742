/*
Package nodegate exposes workflow templates for a node-graph execution backend (ComfyUI)
as named, typed endpoints.

A template is an exported backend graph whose node titles carry tags:

  - $name or $name(field, ...): the node is an input; callers set its fields.
  - #name: the node is an output; its artifacts are returned under name.
  - !bypass: the node is removed before every submission.
  - !cache: the node is shared across templates so the backend keeps it loaded.

Calling a template clones it, applies the parameters, removes bypassed nodes and
the edges that pointed at them, merges the cache nodes of every other template
under fresh ids, submits the graph and waits for the backend to report completion
on its event stream. Output artifacts are returned base64 encoded.

# Usage

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/nodegate"
	)

	func main() {
		ctx := context.Background()

		// Templates are read from ./workflows/<name>.json
		gw, err := nodegate.New(ctx, "./workflows",
			nodegate.WithBackendURL("http://127.0.0.1:8188"),
			nodegate.WithInputDir("/srv/comfyui/input"),
		)
		if err != nil {
			log.Fatal(err)
		}
		defer gw.Close()

		if err := gw.Start(ctx); err != nil {
			log.Fatal(err)
		}

		result, err := gw.Execute(ctx, "txt2img", map[string]any{
			"prompt":  map[string]any{"text": "a lighthouse at dusk"},
			"upscale": false,
		})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(len(result["image"].(string)))
	}

The serve and mcp commands of cmd/nodegate expose the same gateway over HTTP
and the Model Context Protocol.
*/
package nodegate
