package importer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FlatParser reads a JSON object whose keys are scroll paths and whose
// values are the payloads, e.g. {"/wallet/settings": {...}}.
type FlatParser struct{}

func (p *FlatParser) Format() Format { return FormatFlat }

func (p *FlatParser) Parse(data []byte, opts Options) (*Result, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("importer: not a JSON object: %w", err)
	}

	res := &Result{}
	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := name
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		path, renamed := sanitizePath(path, opts.PreserveCase)
		if path == "" {
			res.Skipped = append(res.Skipped, Skipped{Name: name, Reason: "no usable path segments"})
			continue
		}
		path = joinPrefix(opts.Prefix, path)
		if err := validate(path); err != nil {
			res.Skipped = append(res.Skipped, Skipped{Name: name, Reason: err.Error()})
			continue
		}

		var payload any
		if err := json.Unmarshal(doc[name], &payload); err != nil {
			res.Skipped = append(res.Skipped, Skipped{Name: name, Reason: "payload is not valid JSON"})
			continue
		}

		imp := Imported{Path: path, Payload: payload}
		if renamed {
			imp.OriginalName = name
			res.Warnings = append(res.Warnings, fmt.Sprintf("renamed %q to %s", name, path))
		}
		res.Scrolls = append(res.Scrolls, imp)
	}

	Deduplicate(res.Scrolls)
	return res, nil
}

// sanitizePath cleans every segment of a slash-separated path. The
// second result reports whether anything changed.
func sanitizePath(path string, preserveCase bool) (string, bool) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	out := make([]string, 0, len(segs))
	renamed := false
	for _, seg := range segs {
		clean := SanitizeSegment(seg, preserveCase)
		if clean == "" {
			renamed = true
			continue
		}
		if clean != seg {
			renamed = true
		}
		out = append(out, clean)
	}
	if len(out) == 0 {
		return "", true
	}
	return "/" + strings.Join(out, "/"), renamed
}
