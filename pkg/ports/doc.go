/*
Package ports defines the driven ports (interfaces) for nodegate.

These interfaces decouple the workflow store, the correlator and the executor from
external implementations, so templates can live on disk, in Redis or in memory and
the execution backend can be replaced by a fake in tests.

# Key Interfaces

  - TemplateStore: persists raw template documents by name (file, redis, memory).
  - Watchable: optional; notifies when the underlying templates change.
  - DistributedLocker: serializes template mutation across replicas.
  - Backend / EventStream: the node-graph execution backend and its lifecycle events.
*/
package ports
