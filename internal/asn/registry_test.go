package asn

import (
	"slices"
	"testing"

	"iptoasn/internal/domain"
)

func TestRegistryFirstSeenWins(t *testing.T) {
	r := newRegistry(0)

	if r.add(64500, domain.ASInfo{Country: "US", Description: "FIRST"}) {
		t.Fatalf("first add reported a conflict")
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d after first add, want 1", r.Len())
	}
	if r.add(64500, domain.ASInfo{Country: "US", Description: "FIRST"}) {
		t.Fatalf("identical add reported a conflict")
	}
	if !r.add(64500, domain.ASInfo{Country: "FR", Description: "SECOND"}) {
		t.Fatalf("conflicting add did not report a conflict")
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d after repeated adds, want 1", r.Len())
	}

	info, ok := r.Lookup(64500)
	if !ok || info.Description != "FIRST" {
		t.Fatalf("Lookup returned %+v, %v", info, ok)
	}
	if _, ok := r.Lookup(1); ok {
		t.Fatalf("Lookup(1) found an entry")
	}
}

func TestRegistryNumbersSkipsZero(t *testing.T) {
	r := newRegistry(0)
	for _, n := range []uint32{30, 0, 10, 20} {
		r.add(n, domain.ASInfo{})
	}

	if got := r.Numbers(); !slices.Equal(got, []uint32{10, 20, 30}) {
		t.Fatalf("Numbers returned %v", got)
	}
	if r.Len() != 4 {
		t.Fatalf("Len returned %d, want 4", r.Len())
	}
}
