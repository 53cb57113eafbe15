package importer

import (
	"encoding/json"
	"fmt"
	"sort"
)

// TreeParser reads a nested JSON object and flattens it: every non-object
// leaf, and every object below maxTreeDepth, becomes one scroll whose
// path is the chain of keys above it.
type TreeParser struct{}

// maxTreeDepth bounds recursion so a hostile file cannot build unbounded
// paths.
const maxTreeDepth = 16

func (p *TreeParser) Format() Format { return FormatTree }

func (p *TreeParser) Parse(data []byte, opts Options) (*Result, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("importer: not a JSON object: %w", err)
	}

	res := &Result{}
	p.walk(doc, "", 0, opts, res)

	sort.Slice(res.Scrolls, func(i, j int) bool {
		return res.Scrolls[i].Path < res.Scrolls[j].Path
	})
	Deduplicate(res.Scrolls)
	return res, nil
}

func (p *TreeParser) walk(node map[string]any, base string, depth int, opts Options, res *Result) {
	names := make([]string, 0, len(node))
	for name := range node {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		seg := SanitizeSegment(name, opts.PreserveCase)
		if seg == "" {
			res.Skipped = append(res.Skipped, Skipped{Name: base + "/" + name, Reason: "unusable key name"})
			continue
		}
		rel := base + "/" + seg

		child, isObject := node[name].(map[string]any)
		if isObject && depth+1 < maxTreeDepth && len(child) > 0 {
			p.walk(child, rel, depth+1, opts, res)
			continue
		}

		path := joinPrefix(opts.Prefix, rel)
		if err := validate(path); err != nil {
			res.Skipped = append(res.Skipped, Skipped{Name: base + "/" + name, Reason: err.Error()})
			continue
		}
		imp := Imported{Path: path, Payload: node[name]}
		if seg != name {
			imp.OriginalName = name
			res.Warnings = append(res.Warnings, fmt.Sprintf("renamed %q to %s", name, path))
		}
		res.Scrolls = append(res.Scrolls, imp)
	}
}
