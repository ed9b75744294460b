// Package api hosts the HTTP server for operators and the cluster. Routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/work-orders to queue a GATHER or BUILD work order.
//   - GET /v1/data-sources/{id} for the last recorded run of a data source.
package api
