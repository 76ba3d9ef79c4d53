// Package http_middleware assembles the devbar middleware for an
// application: the per-request interceptor plus aggregation into the
// in-memory store, Prometheus metrics and N+1 detection.
//
// The middleware is designed to be used with the standard library's
// net/http package or any router accepting func(http.Handler) http.Handler.
package http_middleware
