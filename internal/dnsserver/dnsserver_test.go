package dnsserver

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"iptoasn/internal/asn"
	"iptoasn/internal/domain"
)

type staticProvider struct {
	snap *asn.Snapshot
}

func (p staticProvider) Current() *asn.Snapshot { return p.snap }

func testHandler() *Handler {
	snap := asn.Build([]domain.Record{
		{FirstIP: netip.MustParseAddr("8.8.8.0"), LastIP: netip.MustParseAddr("8.8.8.255"), ASN: 15169, Country: "US", Description: "GOOGLE"},
		{FirstIP: netip.MustParseAddr("9.0.0.0"), LastIP: netip.MustParseAddr("9.0.0.255"), ASN: 0, Country: "None", Description: "Not routed"},
		{FirstIP: netip.MustParseAddr("2001:4860::"), LastIP: netip.MustParseAddr("2001:4860::ffff"), ASN: 15169, Country: "US", Description: "GOOGLE"},
	}, "test")
	return NewHandler(staticProvider{snap: snap}, "asn.local", 0)
}

func query(name string, qtype uint16) *dns.Msg {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	return msg
}

func TestAnswerOriginIPv4(t *testing.T) {
	resp := testHandler().answer(query("8.8.8.8.origin.asn.local", dns.TypeTXT))

	require.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.True(t, resp.Authoritative)
	require.Len(t, resp.Answer, 1)

	txt, ok := resp.Answer[0].(*dns.TXT)
	require.True(t, ok)
	require.Equal(t, []string{"15169 | 8.8.8.0 - 8.8.8.255 | US | GOOGLE"}, txt.Txt)
	require.EqualValues(t, DefaultTTL, txt.Hdr.Ttl)
}

func TestAnswerOriginIPv6(t *testing.T) {
	ip := netip.MustParseAddr("2001:4860::8888")
	arpa, err := dns.ReverseAddr(ip.String())
	require.NoError(t, err)
	name := strings.TrimSuffix(arpa, "ip6.arpa.") + "origin6.asn.local."

	resp := testHandler().answer(query(name, dns.TypeTXT))
	require.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1)
	require.Equal(t, []string{"15169 | 2001:4860:: - 2001:4860::ffff | US | GOOGLE"}, resp.Answer[0].(*dns.TXT).Txt)
}

func TestAnswerAS(t *testing.T) {
	h := testHandler()

	resp := h.answer(query("AS15169.asn.local", dns.TypeTXT))
	require.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1)
	require.Equal(t, []string{"15169 | US | GOOGLE"}, resp.Answer[0].(*dns.TXT).Txt)

	require.Equal(t, dns.RcodeNameError, h.answer(query("AS64512.asn.local", dns.TypeTXT)).Rcode)
	require.Equal(t, dns.RcodeNameError, h.answer(query("AS0.asn.local", dns.TypeTXT)).Rcode)
}

func TestAnswerNegative(t *testing.T) {
	h := testHandler()

	cases := []struct {
		name  string
		qtype uint16
		rcode int
	}{
		{"9.0.0.9.origin.asn.local", dns.TypeTXT, dns.RcodeNameError},
		{"1.1.1.1.origin.asn.local", dns.TypeTXT, dns.RcodeNameError},
		{"1.1.1.origin.asn.local", dns.TypeTXT, dns.RcodeNameError},
		{"300.1.1.1.origin.asn.local", dns.TypeTXT, dns.RcodeNameError},
		{"garbage.asn.local", dns.TypeTXT, dns.RcodeNameError},
		{"8.8.8.8.origin.example.com", dns.TypeTXT, dns.RcodeRefused},
		{"8.8.8.8.origin.asn.local", dns.TypeA, dns.RcodeSuccess},
		{"asn.local", dns.TypeTXT, dns.RcodeSuccess},
	}
	for _, tc := range cases {
		resp := h.answer(query(tc.name, tc.qtype))
		require.Equal(t, tc.rcode, resp.Rcode, tc.name)
		require.Empty(t, resp.Answer, tc.name)
	}
}

func TestSplitTXT(t *testing.T) {
	require.Equal(t, []string{"short"}, splitTXT("short"))

	long := strings.Repeat("x", 600)
	parts := splitTXT(long)
	require.Len(t, parts, 3)
	require.Len(t, parts[0], 255)
	require.Len(t, parts[2], 90)
	require.Equal(t, long, strings.Join(parts, ""))
}

func TestServeOverUDP(t *testing.T) {
	packetConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, packetConn, listener, testHandler()) }()

	client := &dns.Client{Net: "udp", Timeout: 2 * time.Second}
	var resp *dns.Msg
	require.Eventually(t, func() bool {
		resp, _, err = client.Exchange(query("8.8.8.8.origin.asn.local", dns.TypeTXT), packetConn.LocalAddr().String())
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	require.Len(t, resp.Answer, 1)

	tcpClient := &dns.Client{Net: "tcp", Timeout: 2 * time.Second}
	resp, _, err = tcpClient.Exchange(query("AS15169.asn.local", dns.TypeTXT), listener.Addr().String())
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
