package asn

import (
	"slices"

	"iptoasn/internal/domain"
)

// Registry maps an AS number to the country and description it was first
// seen with. Later rows for the same number never overwrite the entry.
type Registry struct {
	entries map[uint32]domain.ASInfo
}

func newRegistry(capacity int) *Registry {
	return &Registry{entries: make(map[uint32]domain.ASInfo, capacity)}
}

// add registers info for asn unless the number is already known. It reports
// whether the number was known with different metadata.
func (r *Registry) add(asn uint32, info domain.ASInfo) (conflict bool) {
	if existing, ok := r.entries[asn]; ok {
		return existing != info
	}
	r.entries[asn] = info
	return false
}

func (r *Registry) Lookup(asn uint32) (domain.ASInfo, bool) {
	info, ok := r.entries[asn]
	return info, ok
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// Numbers returns every announced AS number in ascending order; the
// unannounced sentinel 0 is left out.
func (r *Registry) Numbers() []uint32 {
	out := make([]uint32, 0, len(r.entries))
	for asn := range r.entries {
		if asn == 0 {
			continue
		}
		out = append(out, asn)
	}
	slices.Sort(out)
	return out
}
