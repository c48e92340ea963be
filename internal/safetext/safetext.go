package safetext

import "strings"

// Filter drops guide entries whose text matches a configured denylist.
// Matching is case-insensitive substring; an empty denylist blocks nothing.
// This is a content policy, not an error path: callers drop matches silently.
type Filter struct {
	words []string // lowercased at construction
}

// New builds a Filter from deny words. Blank entries are ignored.
func New(words []string) *Filter {
	f := &Filter{}
	for _, w := range words {
		w = strings.TrimSpace(strings.ToLower(w))
		if w != "" {
			f.words = append(f.words, w)
		}
	}
	return f
}

// Blocked reports whether any field contains a deny word (case-insensitive).
func (f *Filter) Blocked(fields ...string) bool {
	if f == nil || len(f.words) == 0 {
		return false
	}
	for _, field := range fields {
		if field == "" {
			continue
		}
		lower := strings.ToLower(field)
		for _, w := range f.words {
			if strings.Contains(lower, w) {
				return true
			}
		}
	}
	return false
}
