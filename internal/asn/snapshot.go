package asn

import (
	"fmt"
	"net/netip"
	"time"

	"iptoasn/internal/domain"
)

// Snapshot is one complete, immutable dataset: the Range Index, the Metadata
// Registry and the counters from the parse that produced them. Readers may
// hold a Snapshot for as long as they need; it is reclaimed once the last
// reference is gone.
type Snapshot struct {
	index    *Index
	registry *Registry
	stats    Stats
	origin   string
	digest   uint64
	loadedAt time.Time
}

func newSnapshot(index *Index, registry *Registry, stats Stats, origin string, digest uint64) *Snapshot {
	return &Snapshot{
		index:    index,
		registry: registry,
		stats:    stats,
		origin:   origin,
		digest:   digest,
		loadedAt: time.Now().UTC(),
	}
}

// LookupByIP returns the announced record covering ip.
func (s *Snapshot) LookupByIP(ip netip.Addr) (domain.Record, bool) {
	return s.index.Lookup(ip)
}

// LookupMeta returns the country and description registered for asn.
func (s *Snapshot) LookupMeta(asn uint32) (domain.ASInfo, bool) {
	return s.registry.Lookup(asn)
}

// CollectRanges returns every range announced by asn, ascending.
func (s *Snapshot) CollectRanges(asn uint32) []domain.AddrRange {
	return s.index.RangesByASN(asn)
}

// ASNumbers lists the announced AS numbers known to the registry.
func (s *Snapshot) ASNumbers() []uint32 {
	return s.registry.Numbers()
}

func (s *Snapshot) Len() int {
	return s.index.Len()
}

func (s *Snapshot) Stats() Stats {
	return s.stats
}

func (s *Snapshot) Origin() string {
	return s.origin
}

func (s *Snapshot) Digest() uint64 {
	return s.digest
}

// DigestHex renders the digest as 16 lowercase hex digits.
func (s *Snapshot) DigestHex() string {
	return FormatDigest(s.digest)
}

func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

func FormatDigest(digest uint64) string {
	return fmt.Sprintf("%016x", digest)
}
