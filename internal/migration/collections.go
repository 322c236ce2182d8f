package migration

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/nvinuesa/kdbx2bw/internal/model"
	"github.com/nvinuesa/kdbx2bw/internal/security"
)

// ErrInvalidRewrite is returned for a malformed "pattern:replacement" rule.
var ErrInvalidRewrite = errors.New("invalid collection path rewrite")

// ErrEmptyCollectionPath is returned when rewrites leave an entry without a
// collection path.
var ErrEmptyCollectionPath = errors.New("empty collection path")

// PathRewrite rewrites collection paths before collections are created.
// Replacement uses regexp template syntax: $1 or ${name} expand a group, and
// the longest name is taken, so "$1x" means "${1x}" and must be written
// "${1}x".
type PathRewrite struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// Apply rewrites the first match of the pattern in path.
func (r PathRewrite) Apply(path string) string {
	m := r.Pattern.FindStringSubmatchIndex(path)
	if m == nil {
		return path
	}
	expanded := r.Pattern.ExpandString(nil, r.Replacement, path, m)
	return path[:m[0]] + string(expanded) + path[m[1]:]
}

func (r PathRewrite) String() string {
	return r.Pattern.String() + ":" + r.Replacement
}

// ParsePathRewrite parses "pattern:replacement". The first unescaped colon
// separates the two; "\:" is a literal colon on either side.
func ParsePathRewrite(rule string) (PathRewrite, error) {
	sep := -1
	for i := 0; i < len(rule); i++ {
		if rule[i] == '\\' && i+1 < len(rule) && rule[i+1] == ':' {
			i++
			continue
		}
		if rule[i] == ':' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return PathRewrite{}, fmt.Errorf("%w %q: missing ':' between pattern and replacement", ErrInvalidRewrite, rule)
	}

	pattern := unescapeColons(rule[:sep])
	if pattern == "" {
		return PathRewrite{}, fmt.Errorf("%w %q: empty pattern", ErrInvalidRewrite, rule)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return PathRewrite{}, fmt.Errorf("%w %q: %w", ErrInvalidRewrite, rule, err)
	}
	return PathRewrite{Pattern: re, Replacement: unescapeColons(rule[sep+1:])}, nil
}

// ParsePathRewrites parses rules in order.
func ParsePathRewrites(rules []string) ([]PathRewrite, error) {
	out := make([]PathRewrite, 0, len(rules))
	for _, rule := range rules {
		if strings.TrimSpace(rule) == "" {
			continue
		}
		r, err := ParsePathRewrite(rule)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func unescapeColons(s string) string {
	return strings.ReplaceAll(s, `\:`, ":")
}

// RewriteCollectionPaths returns a copy of entries with every rewrite applied
// to each collection path, in order. Later rewrites see the output of earlier
// ones. Control characters are then stripped, so the result is the exact
// collection name sent to the vault. The entries themselves are shared.
func RewriteCollectionPaths(entries []model.PasswordEntry, rewrites []PathRewrite) []model.PasswordEntry {
	out := make([]model.PasswordEntry, len(entries))
	for i, e := range entries {
		for _, r := range rewrites {
			e.CollectionPath = r.Apply(e.CollectionPath)
		}
		e.CollectionPath = security.SanitizeString(e.CollectionPath)
		out[i] = e
	}
	return out
}

// collectionPaths returns the sorted distinct collection paths of entries.
func collectionPaths(entries []model.PasswordEntry) ([]string, error) {
	seen := make(map[string]bool, len(entries))
	paths := make([]string, 0, len(entries))
	for i, e := range entries {
		if e.CollectionPath == "" {
			return nil, fmt.Errorf("%w for entry %d", ErrEmptyCollectionPath, i)
		}
		if seen[e.CollectionPath] {
			continue
		}
		seen[e.CollectionPath] = true
		paths = append(paths, e.CollectionPath)
	}
	sort.Strings(paths)
	return paths, nil
}
