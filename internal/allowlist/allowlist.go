// Package allowlist decides which upstream hosts the proxy may fetch from.
package allowlist

import "strings"

// List is a parsed comma separated host allow-list. The zero value denies
// everything.
type List struct {
	any      bool
	exact    map[string]struct{}
	suffixes []string
}

// Parse accepts "*", exact host names and "*.domain" wildcard patterns.
// A wildcard matches any host ending in ".domain" but not "domain" itself.
func Parse(patterns string) List {
	l := List{exact: make(map[string]struct{})}
	if strings.TrimSpace(patterns) == "*" {
		l.any = true
		return l
	}
	for _, pattern := range strings.Split(patterns, ",") {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		switch {
		case pattern == "":
		case pattern == "*":
			l.any = true
		case strings.HasPrefix(pattern, "*."):
			l.suffixes = append(l.suffixes, pattern[1:])
		default:
			l.exact[pattern] = struct{}{}
		}
	}
	return l
}

func (l List) Allows(host string) bool {
	if l.any {
		return true
	}
	host = strings.ToLower(host)
	if _, ok := l.exact[host]; ok {
		return true
	}
	for _, suffix := range l.suffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}
