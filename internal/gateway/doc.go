// Package gateway serves the forgestate StateService.
//
// # Surfaces
//
// HTTP (always on):
//
//	GET  /api/project-state          current ProjectState
//	POST /api/project-state          replace (revision-checked)
//	POST /api/checklist/batch        {"updates":[{"id":0,"value":true}]}
//	GET  /api/checklist              progress and lock view
//	POST /api/singularity/one-click  complete every step
//	POST /api/codex/custom           append a custom codex entry
//	GET  /api/codex                  static codex with unlock status
//	GET  /api/steps                  step table grouped by category
//	GET  /health, /health/ready      liveness, store reachability
//	GET  /metrics                    Prometheus, when metrics.enabled
//
// Every API response is a {"success", "data", "error"} envelope.
//
// gRPC (when server.grpc_addr is set, or on :50051 over Tailscale) exposes the
// same operations as forgestate.v1.StateService using the JSON codec from
// package wire.
//
// # Middleware
//
// Requests get an X-Request-ID. When auth.jwt_secret is set, writes need a
// bearer token. POSTs carrying an Idempotency-Key are answered from the replay
// cache when the same key and body were already seen.
package gateway
