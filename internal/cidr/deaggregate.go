// Package cidr splits inclusive address ranges into CIDR blocks.
package cidr

import (
	"encoding/binary"
	"net/netip"

	"lukechampine.com/uint128"
)

// RangeToCIDRs returns the minimal list of aligned blocks covering exactly
// [first, last], in ascending order. Mismatched families, invalid addresses
// and first > last yield nil.
func RangeToCIDRs(first, last netip.Addr) []string {
	prefixes := RangeToPrefixes(first, last)
	if len(prefixes) == 0 {
		return nil
	}
	out := make([]string, len(prefixes))
	for i, p := range prefixes {
		out[i] = p.String()
	}
	return out
}

// RangeToPrefixes is RangeToCIDRs without the string rendering.
func RangeToPrefixes(first, last netip.Addr) []netip.Prefix {
	if !first.IsValid() || !last.IsValid() || first.BitLen() != last.BitLen() {
		return nil
	}
	if first.Compare(last) > 0 {
		return nil
	}

	bits := first.BitLen()
	start, end := toUint(first), toUint(last)

	if start.IsZero() && end.Equals(maxValue(bits)) {
		return []netip.Prefix{netip.PrefixFrom(first, 0)}
	}

	var out []netip.Prefix
	for {
		size := blockBits(start, end, bits)
		out = append(out, netip.PrefixFrom(fromUint(start, bits), bits-size))

		blockEnd := start.Add(maxValue(size))
		if blockEnd.Cmp(end) >= 0 {
			return out
		}
		// blockEnd < end, so this never passes the top of the space.
		start = blockEnd.Add64(1)
	}
}

// blockBits returns log2 of the largest block that starts at start, is
// aligned to it and does not run past end.
func blockBits(start, end uint128.Uint128, bits int) int {
	align := bits
	if !start.IsZero() {
		align = min(start.TrailingZeros(), bits)
	}

	// Largest k with 2^k <= end-start+1, computed without overflowing when
	// the remainder covers the whole space.
	span := end.Sub(start)
	fit := bits
	if !span.Equals(maxValue(bits)) {
		fit = span.Add64(1).Len() - 1
	}
	return min(align, fit)
}

func maxValue(bits int) uint128.Uint128 {
	return uint128.Max.Rsh(uint(128 - bits))
}

func toUint(addr netip.Addr) uint128.Uint128 {
	if addr.Is4() {
		b := addr.As4()
		return uint128.From64(uint64(binary.BigEndian.Uint32(b[:])))
	}
	b := addr.As16()
	return uint128.FromBytesBE(b[:])
}

func fromUint(v uint128.Uint128, bits int) netip.Addr {
	if bits == 32 {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v.Lo))
		return netip.AddrFrom4(b)
	}
	var b [16]byte
	v.PutBytesBE(b[:])
	return netip.AddrFrom16(b)
}
