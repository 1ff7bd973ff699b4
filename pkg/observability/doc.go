/*
Package observability turns kernel lifecycle hooks into Prometheus metrics and structured logs.

Metrics registers its collectors on a caller-supplied registerer and exposes hooks that feed
them; LogHooks writes the same events to a slog.Logger. Both can be combined with
domain.LifecycleHooks.Merge.
*/
package observability
