// Package api hosts the operator HTTP server that runs beside a crawl.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the live run summary.
//   - GET /v1/checkpoints for the roots already completed.
package api
