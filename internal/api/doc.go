// Package api hosts the optional status server for a running crawl. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/state for the coordinator phase, the in-flight video, and the
//     run's outcome counts.
package api
