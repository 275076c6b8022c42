// Package quota keeps the per-address interaction log that gates the daily
// agent quota. Counts are taken over the current UTC day as a half-open
// window, and every store serializes access to its backend.
package quota
