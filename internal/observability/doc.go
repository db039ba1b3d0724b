// Package observability builds the structured logger and the Prometheus
// metrics of the GRC core.
//
// This package implements:
//   - zap logger construction from a level and an output format
//   - Policy evaluation, violation and rule reload metrics (policy.Recorder)
//   - Plan creation, transition, phase update and cascade metrics (plan.Recorder)
//   - The /metrics handler over a dedicated registry
package observability
