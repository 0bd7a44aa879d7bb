package cidr

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go4.org/netipx"
)

func TestRangeToCIDRs(t *testing.T) {
	tests := []struct {
		name        string
		first, last string
		want        []string
	}{
		{"partial", "10.0.0.0", "10.0.0.5", []string{"10.0.0.0/30", "10.0.0.4/31"}},
		{"whole ipv4", "0.0.0.0", "255.255.255.255", []string{"0.0.0.0/0"}},
		{"single", "192.0.2.7", "192.0.2.7", []string{"192.0.2.7/32"}},
		{"aligned", "1.0.0.0", "1.0.0.255", []string{"1.0.0.0/24"}},
		{"top of ipv4", "255.255.255.254", "255.255.255.255", []string{"255.255.255.254/31"}},
		{"upper half", "128.0.0.0", "255.255.255.255", []string{"128.0.0.0/1"}},
		{"unaligned to top", "255.255.255.253", "255.255.255.255", []string{"255.255.255.253/32", "255.255.255.254/31"}},
		{"from zero", "0.0.0.0", "0.0.0.2", []string{"0.0.0.0/31", "0.0.0.2/32"}},
		{"whole ipv6", "::", "ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff", []string{"::/0"}},
		{"top of ipv6", "ffff:ffff:ffff:ffff:ffff:ffff:ffff:fffe", "ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff", []string{"ffff:ffff:ffff:ffff:ffff:ffff:ffff:fffe/127"}},
		{"ipv6 block", "2001:db8::", "2001:db8::ffff", []string{"2001:db8::/112"}},
		{"ipv6 high half", "8000::", "ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff", []string{"8000::/1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RangeToCIDRs(netip.MustParseAddr(tt.first), netip.MustParseAddr(tt.last))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRangeToCIDRsMisuse(t *testing.T) {
	assert.Empty(t, RangeToCIDRs(netip.MustParseAddr("10.0.0.5"), netip.MustParseAddr("10.0.0.0")))
	assert.Empty(t, RangeToCIDRs(netip.MustParseAddr("10.0.0.0"), netip.MustParseAddr("::1")))
	assert.Empty(t, RangeToCIDRs(netip.Addr{}, netip.MustParseAddr("10.0.0.0")))
}

func TestRangeToPrefixesMatchesNetipx(t *testing.T) {
	ranges := [][2]string{
		{"10.0.0.0", "10.0.0.5"},
		{"1.2.3.4", "5.6.7.8"},
		{"0.0.0.1", "255.255.255.254"},
		{"100.64.0.3", "100.127.255.250"},
		{"2001:db8::3", "2001:db8::1:7"},
		{"::1", "ffff:ffff:ffff:ffff:ffff:ffff:ffff:fffe"},
		{"2c0f:f000::", "2c0f:ffff:ffff:ffff:ffff:ffff:ffff:ffff"},
	}

	for _, r := range ranges {
		first, last := netip.MustParseAddr(r[0]), netip.MustParseAddr(r[1])
		t.Run(r[0]+"-"+r[1], func(t *testing.T) {
			want := netipx.IPRangeFrom(first, last).Prefixes()
			got := RangeToPrefixes(first, last)
			require.Equal(t, want, got)

			// Blocks are contiguous and cover exactly [first, last].
			require.Equal(t, first, got[0].Addr())
			for i := 1; i < len(got); i++ {
				prevLast := netipx.PrefixLastIP(got[i-1])
				require.Equal(t, prevLast.Next(), got[i].Addr())
			}
			require.Equal(t, last, netipx.PrefixLastIP(got[len(got)-1]))
		})
	}
}
