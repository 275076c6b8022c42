// Package status holds the live per-account snapshot shared between the
// workers that write it and the dashboard and HTTP API that read it.
package status
