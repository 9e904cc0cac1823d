package inference

import (
	"net"
	"net/url"
	"strings"
)

// generatePath is appended to any candidate whose URL carries no path.
const generatePath = "/generate"

var loopbackHosts = []string{"127.0.0.1", "localhost", "0.0.0.0", "::1"}

// Hostnames the backend conventionally answers on when the gateway runs
// next to it in a container or cluster.
var conventionalHosts = []string{"inference", "inference.local", "worker", "gpu", "host.docker.internal"}

// ExpandEndpoints turns a base URL value (optionally a comma or
// semicolon separated list) plus operator-configured alias hostnames
// into an ordered, de-duplicated candidate list. Tokens without a
// scheme default to http, and tokens without a path get the generate
// path. When a token's host is a loopback spelling, variants for the
// other loopback spellings, the conventional in-cluster hostnames, and
// the operator aliases are appended with the same scheme, port, and
// path.
func ExpandEndpoints(base string, aliases []string) []string {
	var candidates []string
	seen := make(map[string]struct{})
	add := func(endpoint string) {
		if endpoint == "" {
			return
		}
		if _, ok := seen[endpoint]; ok {
			return
		}
		seen[endpoint] = struct{}{}
		candidates = append(candidates, endpoint)
	}

	for _, token := range splitList(base) {
		parsed, ok := normalizeEndpoint(token)
		if !ok {
			continue
		}
		add(parsed.String())

		host := parsed.Hostname()
		if !isLoopback(host) {
			continue
		}
		for _, alt := range loopbackHosts {
			if alt == host {
				continue
			}
			add(withHost(parsed, alt))
		}
		for _, alt := range conventionalHosts {
			add(withHost(parsed, alt))
		}
		for _, alt := range aliases {
			alt = strings.TrimSpace(alt)
			if alt != "" {
				add(withHost(parsed, alt))
			}
		}
	}
	return candidates
}

func splitList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ';'
	})
	var tokens []string
	for _, field := range fields {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	return tokens
}

func normalizeEndpoint(token string) (*url.URL, bool) {
	if !strings.Contains(token, "://") {
		token = "http://" + token
	}
	parsed, err := url.Parse(token)
	if err != nil || parsed.Host == "" {
		return nil, false
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = generatePath
	}
	return parsed, true
}

func isLoopback(host string) bool {
	for _, candidate := range loopbackHosts {
		if host == candidate {
			return true
		}
	}
	return false
}

// withHost rebuilds the URL with a replacement host, bracketing IPv6
// literals and keeping the original port.
func withHost(parsed *url.URL, host string) string {
	clone := *parsed
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := parsed.Port(); port != "" {
		clone.Host = net.JoinHostPort(strings.Trim(host, "[]"), port)
	} else {
		clone.Host = host
	}
	return clone.String()
}
