// Package apmhttp provides the devbar HTTP middleware.
//
// For each request the middleware binds a fresh tracker to the request
// context, installs an apmsql hook feeding it, buffers the handler's
// response and, once the handler returns, adds the DevBar-* headers and the
// HTML overlay according to the configuration.
//
//	handler := apmhttp.Middleware(cfg, nil, mux)
//
// A handler that flushes gets the DevBar-* headers as they stand at the first
// flush and no overlay. Hijacked connections are left alone.
package apmhttp
