// Command docfetch downloads documents concurrently through an optional
// rotating proxy pool.
//
// Usage:
//   - docfetch fetch URL... (or --file urls.txt) runs one batch and prints a JSON summary.
//   - docfetch serve starts the HTTP API (POST /v1/batches, GET /v1/stats, GET /v1/proxies).
//
// Configuration comes from --config (YAML/JSON/TOML) and DOCFETCH_* environment
// variables, e.g. DOCFETCH_BATCH_MAX_CONCURRENCY=20 or
// DOCFETCH_PROXY_ENDPOINTS="10.0.0.1:3128,10.0.0.2:3128".
//
// Outcomes can be persisted: bodies go to the storage backend (memory, local or
// gcs) content-addressed by SHA-256, rows to Postgres when db.dsn is set, and a
// notification to Pub/Sub when pubsub.topic_name is set.
package main
