package asn

import (
	"net/netip"
	"slices"
	"sort"

	"github.com/charmbracelet/log"

	"iptoasn/internal/domain"
)

// Index is the Range Index: records keyed by their first address, sorted
// with netip.Addr.Compare. That order puts every IPv4 address before every
// IPv6 address; IPv4-mapped IPv6 addresses sort as IPv6. Queries use the
// same comparator, so mixed tables stay consistent.
//
// An Index is immutable once built and safe for concurrent readers.
type Index struct {
	records []domain.Record
}

// buildIndex sorts records by first address and keeps one record per key.
// The sort is stable, so when two records share a first address the one
// inserted first survives. Dropped duplicates are logged and counted.
func buildIndex(records []domain.Record) (*Index, int) {
	slices.SortStableFunc(records, func(a, b domain.Record) int {
		return a.FirstIP.Compare(b.FirstIP)
	})

	collisions := 0
	out := records[:0]
	for _, rec := range records {
		if n := len(out); n > 0 && out[n-1].FirstIP == rec.FirstIP {
			collisions++
			log.Warn("Duplicate first IP, keeping the earlier record",
				"first_ip", rec.FirstIP,
				"kept_asn", out[n-1].ASN,
				"dropped_asn", rec.ASN,
			)
			continue
		}
		out = append(out, rec)
	}

	clear(records[len(out):])
	return &Index{records: slices.Clip(out)}, collisions
}

// Lookup returns the record announcing ip. It takes the record with the
// greatest first address not above ip and accepts it only when ip is within
// its last address and the AS number is not the unannounced sentinel.
func (ix *Index) Lookup(ip netip.Addr) (domain.Record, bool) {
	candidate, ok := ix.predecessor(ip)
	if !ok {
		return domain.Record{}, false
	}
	if ip.Compare(candidate.LastIP) > 0 || candidate.ASN == 0 {
		return domain.Record{}, false
	}
	return candidate, true
}

func (ix *Index) predecessor(ip netip.Addr) (domain.Record, bool) {
	i := sort.Search(len(ix.records), func(i int) bool {
		return ix.records[i].FirstIP.Compare(ip) > 0
	})
	if i == 0 {
		return domain.Record{}, false
	}
	return ix.records[i-1], true
}

// RangesByASN scans every record and returns the ranges owned by asn in
// ascending order. Not latency critical; there is no reverse index.
func (ix *Index) RangesByASN(asn uint32) []domain.AddrRange {
	var out []domain.AddrRange
	for _, rec := range ix.records {
		if rec.ASN == asn {
			out = append(out, domain.AddrRange{First: rec.FirstIP, Last: rec.LastIP})
		}
	}
	return out
}

func (ix *Index) Len() int {
	return len(ix.records)
}
