// Package api hosts the operator HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/stats and POST /api/stats/reset for run counters.
//   - POST /api/start and /api/stop to control the harvester.
//   - GET /api/files and /files/* to browse and fetch archived files.
//   - GET /api/archive/tree for the remote folder tree.
//   - GET /api/mappings for file to curriculum node assignments.
//   - GET/PUT /api/filter/config and GET/DELETE /api/filter/cache for the
//     relevance filter.
package api
