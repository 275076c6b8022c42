// Package api exposes the read-only status API: the per-account snapshot
// table, a health probe and the Prometheus metrics endpoint.
package api
