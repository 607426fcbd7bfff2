/*
Package api serves the read-only HTTP surface.

Routes:

	GET /health           liveness probe
	GET /metrics          Prometheus exposition
	GET /metrics/state    operational counters from the catalogue
	GET /cid/{cid}        full catalogue row
	GET /search           token and filter search with pagination
	GET /children/{cid}   outgoing edges, capped at 200
	GET /parents/{cid}    incoming edges, capped at 50

All handlers are pure reads. Requests are counted and timed per normalized
route so CID values never become metric labels.
*/
package api
