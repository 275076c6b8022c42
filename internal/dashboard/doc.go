// Package dashboard renders the status registry as a refreshing terminal table.
package dashboard
