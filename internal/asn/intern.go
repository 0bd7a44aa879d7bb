package asn

import "strings"

// Pool deduplicates repeated text fields while one dataset is parsed.
// The dataset has millions of rows but only a few hundred countries and tens
// of thousands of descriptions, so every record shares the canonical copy.
// A Pool belongs to a single parse and is dropped afterwards; it is not safe
// for concurrent use.
type Pool struct {
	values map[string]string
}

func NewPool(capacity int) *Pool {
	return &Pool{values: make(map[string]string, capacity)}
}

// Intern returns the shared copy of s, inserting it on first sight.
// The stored copy is cloned so it never pins the line it was sliced from.
func (p *Pool) Intern(s string) string {
	if s == "" {
		return ""
	}
	if v, ok := p.values[s]; ok {
		return v
	}
	v := strings.Clone(s)
	p.values[v] = v
	return v
}

// Len returns the number of distinct non-empty strings seen so far.
func (p *Pool) Len() int {
	return len(p.values)
}
