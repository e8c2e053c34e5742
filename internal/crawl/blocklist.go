package crawl

import (
	"slices"
	"strings"
)

// domainSet matches exact hosts and suffix wildcards.
type domainSet struct {
	exact    map[string]struct{}
	suffixes []string
}

func newDomainSet(patterns []string) *domainSet {
	set := &domainSet{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			set.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			set.addSuffix(strings.TrimPrefix(value, "."))
		default:
			set.exact[value] = struct{}{}
		}
	}
	if len(set.exact) == 0 && len(set.suffixes) == 0 {
		return nil
	}
	return set
}

func (s *domainSet) addSuffix(suffix string) {
	if suffix == "" || slices.Contains(s.suffixes, suffix) {
		return
	}
	s.suffixes = append(s.suffixes, suffix)
}

// Contains reports whether host matches the set. A nil set matches nothing.
func (s *domainSet) Contains(host string) bool {
	if s == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := s.exact[host]; ok {
		return true
	}
	for _, suffix := range s.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
