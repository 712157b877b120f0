// Package api hosts the HTTP server, middleware, and REST handlers over the
// announcement service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/announcements, /api/announcements/{id} and /api/sources.
//   - POST /api/fetch to trigger a run, GET /api/fetch/status and /api/fetch/stats.
//   - POST /api/subscribe, /api/unsubscribe and GET /unsubscribe for email links.
//   - GET /api/runs and /api/runs/{run_id}/sources when run history is stored.
package api
