/*
Package domain contains the core model of nodegate: node graphs, title tags and the
pure operations that index and rewrite them.

It is kept free of I/O. Persistence, the execution backend and transports live behind
the interfaces in package ports and their adapters.

# Key Entities

  - Graph: a map of node id to Node submitted to the execution backend. Edges are input
    values of the form [sourceNodeID, outputSlot].
  - Node: one operation with a class type, inputs and a display title.
  - Tag: a parsed title annotation. "$name" exposes inputs, "#name" exposes outputs and
    "!name" marks internal behavior such as "!bypass" or "!cache".
  - CachedNode: a node tagged "!cache" in one template, merged into the execution copy of
    every other template.

# Tag Grammar

	SIGIL IDENT ['(' ARGS ')']

SIGIL is one of $, # or !. IDENT matches [A-Za-z0-9_-]+ and ARGS is a comma separated list.
Only input tags may carry a filter list: "$sampler(seed, steps)" exposes two inputs,
"$sampler()" exposes none and "#image(x)" is invalid.
*/
package domain
