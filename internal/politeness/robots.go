// Package politeness parses crawl-policy documents and throttles requests per origin.
package politeness

import (
	"bufio"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultCrawlDelay applies when a policy document exists but declares no crawl-delay for "*".
const DefaultCrawlDelay = 3 * time.Second

type parseState int

const (
	stateStart parseState = iota
	stateSawAgent
	stateSawRule
)

type rule struct {
	path  string
	allow bool
}

type group struct {
	agents   []string
	rules    []rule
	delay    time.Duration
	hasDelay bool
	rateReqs int
	ratePer  time.Duration
	hasRate  bool
}

func (g *group) matchesWildcard() bool {
	for _, a := range g.agents {
		if strings.TrimSpace(a) == "*" {
			return true
		}
	}
	return false
}

// Rules is the parsed policy of one origin, answered on behalf of the wildcard agent.
type Rules struct {
	present      bool
	groups       []*group
	sitemap      string
	defaultDelay time.Duration
}

// AllowAll returns the fail-open policy used when no document could be fetched.
func AllowAll() *Rules {
	return &Rules{}
}

// Parse builds Rules from a robots document.
func Parse(text string) *Rules {
	r := &Rules{present: true, defaultDelay: DefaultCrawlDelay}
	state := stateStart
	current := &group{}

	commit := func() {
		r.groups = append(r.groups, current)
		current = &group{}
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			switch state {
			case stateSawAgent:
				current = &group{}
				state = stateStart
			case stateSawRule:
				commit()
				state = stateStart
			}
			continue
		}
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if unescaped, err := url.PathUnescape(value); err == nil {
			value = unescaped
		}

		switch key {
		case "user-agent":
			if state == stateSawRule {
				commit()
			}
			current.agents = append(current.agents, value)
			state = stateSawAgent
		case "allow", "disallow":
			if state == stateStart {
				continue
			}
			allow := key == "allow"
			if value == "" && !allow {
				// An empty disallow permits everything.
				allow = true
			}
			current.rules = append(current.rules, rule{path: value, allow: allow})
			state = stateSawRule
		case "crawl-delay":
			if state == stateStart {
				continue
			}
			if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
				current.delay = time.Duration(secs) * time.Second
				current.hasDelay = true
			}
			state = stateSawRule
		case "request-rate":
			if state == stateStart {
				continue
			}
			if reqs, per, ok := parseRequestRate(value); ok {
				current.rateReqs = reqs
				current.ratePer = per
				current.hasRate = true
			}
			state = stateSawRule
		case "sitemap":
			if state != stateStart {
				r.sitemap = value
			}
		}
	}
	if state == stateSawRule {
		commit()
	}
	return r
}

func parseRequestRate(value string) (int, time.Duration, bool) {
	left, right, ok := strings.Cut(value, "/")
	if !ok {
		return 0, 0, false
	}
	reqs, err := strconv.Atoi(strings.TrimSpace(left))
	if err != nil || reqs <= 0 {
		return 0, 0, false
	}
	secs, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(right), "s"))
	if err != nil || secs <= 0 {
		return 0, 0, false
	}
	return reqs, time.Duration(secs) * time.Second, true
}

func (r *Rules) wildcard() *group {
	if r == nil {
		return nil
	}
	for _, g := range r.groups {
		if g.matchesWildcard() {
			return g
		}
	}
	return nil
}

// Present reports whether the rules came from a fetched document.
func (r *Rules) Present() bool {
	return r != nil && r.present
}

// CanFetch reports whether the wildcard agent may fetch path. The longest matching
// rule wins; an allow rule wins a tie of equal length.
func (r *Rules) CanFetch(path string) bool {
	g := r.wildcard()
	if g == nil {
		return true
	}
	if path == "" {
		path = "/"
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		path = unescaped
	}
	bestLen := -1
	allowed := true
	for _, rl := range g.rules {
		if !strings.HasPrefix(path, rl.path) {
			continue
		}
		switch {
		case len(rl.path) > bestLen:
			bestLen = len(rl.path)
			allowed = rl.allow
		case len(rl.path) == bestLen && rl.allow:
			allowed = true
		}
	}
	return allowed
}

// CrawlDelay returns the wildcard agent's delay, DefaultCrawlDelay when the document
// declares none, and zero when there was no document at all.
func (r *Rules) CrawlDelay() time.Duration {
	if !r.Present() {
		return 0
	}
	if g := r.wildcard(); g != nil && g.hasDelay {
		return g.delay
	}
	return r.defaultDelay
}

// RequestRate returns the wildcard agent's request-rate directive, if any.
func (r *Rules) RequestRate() (int, time.Duration, bool) {
	g := r.wildcard()
	if g == nil || !g.hasRate {
		return 0, 0, false
	}
	return g.rateReqs, g.ratePer, true
}

// EffectiveDelay is the cooldown to apply between two requests to the origin.
func (r *Rules) EffectiveDelay() time.Duration {
	delay := r.CrawlDelay()
	if reqs, per, ok := r.RequestRate(); ok {
		if interval := per / time.Duration(reqs); interval > delay {
			delay = interval
		}
	}
	return delay
}

// SitemapLocation returns the last sitemap directive seen inside a group.
func (r *Rules) SitemapLocation() string {
	if r == nil {
		return ""
	}
	return r.sitemap
}
