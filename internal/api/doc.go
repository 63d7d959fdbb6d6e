// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/batches to queue URLs and run a batch; GET /v1/batches/{batch_id}
//     for its status.
//   - GET /v1/stats for the byte and worker counters.
//   - GET/POST /v1/proxies to inspect the proxy pool or add to it.
package api
