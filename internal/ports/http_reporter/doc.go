// Package http_reporter exposes the aggregated devbar figures as JSON. It
// is mounted at the configured debug endpoint during development.
package http_reporter
