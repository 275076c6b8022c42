package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

var proxySchemes = map[string]struct{}{
	"http":   {},
	"https":  {},
	"socks5": {},
}

// ValidateProxy checks scheme://[user[:pass]@]host:port with scheme one of
// http, https or socks5 and returns the parsed URL.
func ValidateProxy(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || strings.Contains(rest, "://") {
		return nil, fmt.Errorf("invalid proxy format: %s", raw)
	}
	if _, ok := proxySchemes[scheme]; !ok {
		return nil, fmt.Errorf("unsupported proxy scheme %q", scheme)
	}

	hostPort := rest
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		auth := rest[:at]
		hostPort = rest[at+1:]
		user, _, _ := strings.Cut(auth, ":")
		if user == "" {
			return nil, errors.New("proxy credentials missing user name")
		}
	}
	hostPort = strings.TrimSuffix(hostPort, "/")

	host, port, ok := cutPort(hostPort)
	if !ok || host == "" {
		return nil, fmt.Errorf("proxy %s must be host:port", raw)
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil || n == 0 {
		return nil, fmt.Errorf("invalid proxy port %q", port)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse proxy: %w", err)
	}
	return parsed, nil
}

func cutPort(hostPort string) (string, string, bool) {
	idx := strings.LastIndex(hostPort, ":")
	if idx < 0 {
		return "", "", false
	}
	host, port := hostPort[:idx], hostPort[idx+1:]
	if strings.ContainsAny(host, "/?#") || port == "" {
		return "", "", false
	}
	return host, port, true
}
