// Package cli provides shared helpers for the scrollns commands.
package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hakoda-dev/scrollns/pkg/namespace"
	"github.com/hakoda-dev/scrollns/pkg/scroll"
)

// ExpandPattern resolves a command-line argument into concrete scroll
// paths. Wildcard patterns (trailing /* or /**) expand through List;
// plain paths are verified to exist.
func ExpandPattern(ns namespace.Namespace, pattern string) ([]string, error) {
	if err := scroll.ValidatePattern(pattern); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	if scroll.IsPattern(pattern) {
		base := patternBase(pattern)
		keys, err := ns.List(base)
		if err != nil {
			return nil, err
		}
		var matches []string
		for _, key := range keys {
			if scroll.MatchPattern(pattern, key) {
				matches = append(matches, key)
			}
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no scrolls match %q", pattern)
		}
		sort.Strings(matches)
		return matches, nil
	}

	if _, err := ns.Read(pattern); err != nil {
		if errors.Is(err, namespace.ErrNotFound) {
			return nil, fmt.Errorf("scroll %q not found", pattern)
		}
		return nil, err
	}
	return []string{pattern}, nil
}

// patternBase strips the wildcard tail, leaving the listing prefix.
func patternBase(pattern string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(pattern, "/**"), "/*")
	if base == "" {
		return "/"
	}
	return base
}

// ExpandPatterns resolves several arguments, deduplicating while
// preserving first-match order.
func ExpandPatterns(ns namespace.Namespace, patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var result []string
	for _, pattern := range patterns {
		matches, err := ExpandPattern(ns, pattern)
		if err != nil {
			return nil, err
		}
		for _, key := range matches {
			if !seen[key] {
				seen[key] = true
				result = append(result, key)
			}
		}
	}
	return result, nil
}

// SortKeys returns a sorted copy of the keys slice.
func SortKeys(keys []string) []string {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)
	return sorted
}
