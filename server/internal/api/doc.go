// Package api implements the HTTP surface of queuefeed-server.
//
// New(deps) returns an http.Handler that serves:
//
//	POST /webhook      accept one webhook payload; 400 invalid_data if it does not normalize
//	POST /click/{id}   increment a record's click count; 404 not_found for an unknown id or malformed path
//	GET  /data         every retained record, newest first ([] when empty)
//	GET  /healthz      store reachability, record and subscriber counts
//	GET  /metrics      Prometheus text exposition
//	GET  /sse, /ws     live event streams (see package stream)
//
// Write endpoints answer {"success": bool, "reason": string}. Any route
// answers 503 store_unavailable when the backing store cannot be reached.
// Request bodies are capped at MaxBodyBytes.
//
// Every request gets an X-Request-ID, one slog line, and CORS headers for the
// configured origins. JSON types are defined in types.go.
package api
