// Package api hosts the status server that runs next to a crawl. Routes:
//   - GET /healthz for liveness probes.
//   - GET /progress for the persisted resume cursor.
//   - GET /metrics for Prometheus scraping.
package api
