// Package endpoint turns the apiEndpoints configuration into a host table
// of route rules, and carries the per-request dispatch context.
package endpoint
