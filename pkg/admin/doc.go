// Package admin serves the management API of a running proxy.
//
// Endpoints:
//
//	GET    /__admin/health      - liveness, uptime and active table summary
//	GET    /__admin/rules       - compiled rules of the active table
//	GET    /__admin/rules/{id}  - one compiled rule
//	POST   /__admin/reload      - rebuild the table from its source
//	GET    /__admin/cache       - cache statistics and upstream breaker states
//	DELETE /__admin/cache       - drop every cached decision
//	POST   /__admin/explain     - per-rule match trace for a described request
//	GET    /metrics             - Prometheus metrics, when configured
//
// Example:
//
//	curl -X POST http://127.0.0.1:9090/__admin/explain \
//	  -H "Content-Type: application/json" \
//	  -d '{"method": "GET", "url": "/health"}'
package admin
