// Package api hosts the HTTP server, middleware, and REST handlers for the
// lookup service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/lookups to start a lookup, GET /v1/lookups/{run_id} to poll it
//     and GET /v1/lookups/{run_id}/report to download the exported report.
//   - GET /v1/runs, /v1/runs/{run_id} and /v1/runs/{run_id}/providers for run
//     history via the store.RunRepository interface.
//   - GET /v1/providers for provider configuration status.
package api
