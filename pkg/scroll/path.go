package scroll

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MaxPathLength is the maximum length of a scroll path in bytes.
	MaxPathLength = 255
	// MaxPathDepth is the maximum number of path segments.
	MaxPathDepth = 32
)

// ErrInvalidPath indicates a path that violates the addressing rules.
var ErrInvalidPath = errors.New("scroll: invalid path")

// ValidatePath checks a concrete scroll path: it must start with a slash,
// every segment must be non-empty, "." and ".." are rejected, and segment
// characters are restricted to letters, digits, underscore, dot, and
// hyphen. Wildcards are not valid in concrete paths.
func ValidatePath(path string) error {
	return validate(path, false)
}

// ValidatePattern checks a watch pattern. Patterns follow the same rules
// as paths but additionally allow a trailing "*" (single segment) or "**"
// (recursive) segment.
func ValidatePattern(pattern string) error {
	return validate(pattern, true)
}

func validate(path string, pattern bool) error {
	if path == "" || path[0] != '/' {
		return fmt.Errorf("%w: %q must start with '/'", ErrInvalidPath, path)
	}
	if len(path) > MaxPathLength {
		return fmt.Errorf("%w: %q exceeds %d bytes", ErrInvalidPath, path, MaxPathLength)
	}
	if path == "/" {
		return nil
	}
	segs := strings.Split(path[1:], "/")
	if len(segs) > MaxPathDepth {
		return fmt.Errorf("%w: %q exceeds %d segments", ErrInvalidPath, path, MaxPathDepth)
	}
	for i, seg := range segs {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, path)
		}
		if seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidPath, path, seg)
		}
		if pattern && (seg == "*" || seg == "**") {
			// Wildcards are only meaningful as the final segment.
			if i != len(segs)-1 {
				return fmt.Errorf("%w: wildcard must be the last segment in %q", ErrInvalidPath, path)
			}
			continue
		}
		for _, c := range seg {
			if !isPathChar(c) {
				return fmt.Errorf("%w: %q contains %q", ErrInvalidPath, path, string(c))
			}
		}
	}
	return nil
}

func isPathChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '.' || c == '-':
		return true
	}
	return false
}

// Segments splits a path into its segments. The root path has none.
func Segments(path string) []string {
	if path == "/" || path == "" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}

// IsPattern reports whether the string carries a wildcard tail.
func IsPattern(s string) bool {
	return strings.HasSuffix(s, "/*") || strings.HasSuffix(s, "/**")
}

// MatchPattern reports whether a concrete path matches a watch pattern.
// Three forms are supported: an exact path, a "/*" tail matching exactly
// one extra segment, and a "/**" tail matching one or more.
func MatchPattern(pattern, path string) bool {
	switch {
	case strings.HasSuffix(pattern, "/**"):
		base := strings.TrimSuffix(pattern, "/**")
		if base == "" {
			return path != "/"
		}
		return strings.HasPrefix(path, base+"/")
	case strings.HasSuffix(pattern, "/*"):
		base := strings.TrimSuffix(pattern, "/*")
		rest, ok := strings.CutPrefix(path, base+"/")
		if !ok || rest == "" {
			return false
		}
		return !strings.Contains(rest, "/")
	default:
		return pattern == path
	}
}

// UnderPrefix reports whether path equals prefix or sits below it at a
// segment boundary, so "/foo" covers "/foo/bar" but never "/foobar".
func UnderPrefix(prefix, path string) bool {
	if prefix == "/" || prefix == "" {
		return true
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
