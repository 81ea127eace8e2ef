// Package health provides the liveness and readiness endpoints served next
// to /metrics.
//
// Readiness runs every registered check with a shared timeout; one
// unhealthy check turns the whole response into 503.
package health
