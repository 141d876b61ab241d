package crawler

import "strings"

// domainScope stores exact hosts and suffix wildcards derived from configuration.
// A nil scope admits every host.
type domainScope struct {
	exact    map[string]struct{}
	suffixes []string
}

func newDomainScope(patterns []string) *domainScope {
	matcher := &domainScope{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			if suffix := strings.TrimPrefix(value, "*."); suffix != "" {
				matcher.addSuffix(suffix)
			}
		case strings.HasPrefix(value, "."):
			if suffix := strings.TrimPrefix(value, "."); suffix != "" {
				matcher.addSuffix(suffix)
			}
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

func (s *domainScope) addSuffix(suffix string) {
	for _, existing := range s.suffixes {
		if existing == suffix {
			return
		}
	}
	s.suffixes = append(s.suffixes, suffix)
}

// Allows reports whether host is inside the crawl scope. Ports are ignored.
func (s *domainScope) Allows(host string) bool {
	if s == nil {
		return true
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	if host == "" {
		return false
	}
	if _, exact := s.exact[host]; exact {
		return true
	}
	for _, suffix := range s.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
