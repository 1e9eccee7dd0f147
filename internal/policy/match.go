package policy

import "strings"

// Match selects the route definition governing a (host, path) pair. Among
// matching routes the one with the longest literal path prefix wins, ties
// prefer an exact host pattern over a wildcard one, and remaining ties fall
// back to catalogue order. The function is pure: the same inputs always
// select the same route.
func Match(host, path string, routes []RouteDef) (RouteDef, bool) {
	host = strings.ToLower(strings.TrimSpace(host))

	best := -1
	bestLiteral := -1
	bestExactHost := false
	for i, route := range routes {
		exactHost, hostOK := matchHost(host, route.Host)
		if !hostOK || !matchPath(path, route.Path) {
			continue
		}
		literal := literalPathPrefixLen(route.Path)
		switch {
		case literal > bestLiteral:
		case literal == bestLiteral && exactHost && !bestExactHost:
		default:
			continue
		}
		best = i
		bestLiteral = literal
		bestExactHost = exactHost
	}
	if best < 0 {
		return RouteDef{}, false
	}
	return routes[best], true
}

// matchHost reports whether the pattern covers the request host and whether
// the pattern was exact rather than a left wildcard. Hostname comparison is
// case-insensitive; wildcards strip exactly one non-empty left label.
func matchHost(host, pattern string) (exact, ok bool) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return false, false
	}
	if suffix, wildcard := strings.CutPrefix(pattern, "*."); wildcard {
		dot := strings.Index(host, ".")
		if dot <= 0 {
			return false, false
		}
		return false, host[dot+1:] == suffix
	}
	return true, host == pattern
}

// matchPath reports whether the pattern covers the request path. A trailing
// wildcard pattern /prefix/* also matches /prefix itself. Paths are
// case-sensitive.
func matchPath(path, pattern string) bool {
	if path == pattern {
		return true
	}
	prefix, wildcard := strings.CutSuffix(pattern, "/*")
	if !wildcard {
		return false
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func literalPathPrefixLen(pattern string) int {
	if prefix, wildcard := strings.CutSuffix(pattern, "/*"); wildcard {
		// The slash ahead of the wildcard is part of the literal prefix.
		return len(prefix) + 1
	}
	return len(pattern)
}
