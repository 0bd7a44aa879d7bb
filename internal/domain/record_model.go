package domain

import (
	"net/netip"
)

// Record is one announced range from the ip2asn dataset.
// ASN 0 marks address space that nobody announces.
type Record struct {
	FirstIP     netip.Addr
	LastIP      netip.Addr
	ASN         uint32
	Country     string
	Description string
}

// Contains reports whether ip falls inside the inclusive range.
func (r Record) Contains(ip netip.Addr) bool {
	return r.FirstIP.Compare(ip) <= 0 && ip.Compare(r.LastIP) <= 0
}

func (r Record) Announced() bool {
	return r.ASN != 0
}

// Valid checks that both bounds belong to the same family and are ordered.
func (r Record) Valid() bool {
	if !r.FirstIP.IsValid() || !r.LastIP.IsValid() {
		return false
	}
	if r.FirstIP.BitLen() != r.LastIP.BitLen() {
		return false
	}
	return r.FirstIP.Compare(r.LastIP) <= 0
}

// ASInfo is the country and description registered for an AS number.
type ASInfo struct {
	Country     string
	Description string
}

// AddrRange is an inclusive address range owned by an AS.
type AddrRange struct {
	First netip.Addr
	Last  netip.Addr
}
