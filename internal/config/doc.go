// Package config loads the fleet configuration from an optional JSON file and
// overlays the REAL_MODE, USE_ONCHAIN and DAILY_AGENT_INTERACTION_COUNT
// environment switches. Values are read once at startup and never mutated
// afterwards; every service receives the section it needs by value.
package config
