// Package api hosts the HTTP server, middleware, and REST handlers for the
// link validator. Notable routes:
//   - POST/GET /api/links and GET/PUT/DELETE /api/links/{id} for link records.
//   - GET /api/links/stats for per-status counts.
//   - DELETE /api/links/DELETEALLCONFIRM for development resets, when enabled.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
