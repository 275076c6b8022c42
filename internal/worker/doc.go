// Package worker implements the per-account cycle: balance, stats, optional
// self-transfer, quota gate, three agent exchanges with usage reports, then
// cooldown. Each step reports its status to the log, the status registry and
// the event publisher.
package worker
