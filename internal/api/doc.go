// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes. readyz turns 200 once the
//     Discord gateway delivered every tracked guild.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/crawlers and /v1/crawlers/{name} for live engine status.
//   - GET /v1/channels/{channel_id}/history for persisted crawl coverage.
package api
