// Package gateway is the outbound HTTP layer used by every account. Each
// Gateway owns one proxy, one spoofed mobile User-Agent and one request pacer,
// and reduces every call to a single classification (success, 403 soft
// success, API error or request failure) that the worker acts on.
package gateway
