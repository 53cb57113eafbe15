// Package importer parses external data files into scrolls. Two formats
// are supported: a flat JSON object mapping scroll paths to payloads,
// and an arbitrarily nested JSON tree whose structure becomes the path
// hierarchy. Names that are not valid path segments are sanitized, so a
// dump from another tool imports without hand editing.
package importer

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/hakoda-dev/scrollns/pkg/scroll"
)

// Format selects a parser.
type Format string

const (
	// FormatFlat is a JSON object of path to payload.
	FormatFlat Format = "flat"
	// FormatTree is a nested JSON object flattened into paths.
	FormatTree Format = "tree"
)

// Imported is one parsed scroll-to-be.
type Imported struct {
	// Path is the sanitized destination path.
	Path string
	// OriginalName is the source name before sanitization, empty when
	// nothing changed.
	OriginalName string
	// Payload is the value to write.
	Payload any
}

// Skipped records an entry the parser could not place.
type Skipped struct {
	Name   string
	Reason string
}

// Result collects everything a parse produced.
type Result struct {
	Scrolls  []Imported
	Warnings []string
	Skipped  []Skipped
}

// Parser turns raw file bytes into a Result.
type Parser interface {
	Parse(data []byte, opts Options) (*Result, error)
	Format() Format
}

// Options adjusts parsing.
type Options struct {
	// Prefix is prepended to every imported path. Empty means "/".
	Prefix string
	// PreserveCase keeps the original casing of sanitized segments.
	PreserveCase bool
}

// New returns the parser for a format.
func New(format Format) (Parser, error) {
	switch format {
	case FormatFlat:
		return &FlatParser{}, nil
	case FormatTree:
		return &TreeParser{}, nil
	default:
		return nil, fmt.Errorf("importer: unknown format %q", format)
	}
}

var segmentRegex = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// SanitizeSegment turns an arbitrary name into a valid path segment:
// Unicode is normalized, spaces become underscores, remaining invalid
// characters are dropped, and the result is lowercased unless
// preserveCase is set. An empty result means the name is unusable.
func SanitizeSegment(name string, preserveCase bool) string {
	name = norm.NFC.String(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = segmentRegex.ReplaceAllString(name, "")
	name = strings.Trim(name, ".")
	if name == ".." {
		return ""
	}
	if !preserveCase {
		name = strings.ToLower(name)
	}
	return name
}

// joinPrefix glues an options prefix and a relative path.
func joinPrefix(prefix, rel string) string {
	if prefix == "" || prefix == "/" {
		return rel
	}
	return strings.TrimSuffix(prefix, "/") + rel
}

// Deduplicate renames colliding paths by appending _1, _2, and so on,
// keeping the first occurrence untouched.
func Deduplicate(scrolls []Imported) {
	seen := make(map[string]int)
	for i := range scrolls {
		base := scrolls[i].Path
		if n := seen[base]; n > 0 {
			scrolls[i].Path = fmt.Sprintf("%s_%d", base, n)
		}
		seen[base]++
	}
}

// validate runs the final path through the scroll rules, returning a
// Skipped reason on failure.
func validate(path string) error {
	return scroll.ValidatePath(path)
}
