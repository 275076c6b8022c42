// Package events mirrors every account status line as a structured event on
// an optional outbound channel (memory, Redis list or RabbitMQ queue).
package events
