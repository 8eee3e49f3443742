/*
Package observability provides the Prometheus instruments nodegate records.

Every method is safe on a nil *Metrics, so components can take metrics as an optional
dependency without branching at each call site.
*/
package observability
