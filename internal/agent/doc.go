// Package agent talks to the three fixed conversational agents and to the
// usage-reporting service. A Service turns one prompt into an Exchange, either
// by calling the live agent endpoint or by drawing a canned pair from the
// knowledge catalog, and reports completed exchanges back for attribution.
package agent
