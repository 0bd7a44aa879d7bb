// Package dnsserver answers TXT queries about announced ranges and AS
// numbers from the currently served snapshot.
//
//	4.4.8.8.origin.asn.local.   TXT "15169 | 8.8.8.0 - 8.8.8.255 | US | GOOGLE"
//	<32 nibbles>.origin6.asn.local. TXT (same, for IPv6)
//	AS15169.asn.local.          TXT "15169 | US | GOOGLE"
package dnsserver

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"

	"iptoasn/internal/asn"
)

const (
	DefaultZone = "asn.local."
	DefaultTTL  = 3600

	maxTXTChunk = 255
)

// Provider hands out the snapshot to answer from.
type Provider interface {
	Current() *asn.Snapshot
}

type Handler struct {
	provider Provider
	zone     string
	ttl      uint32
}

func NewHandler(provider Provider, zone string, ttl uint32) *Handler {
	zone = strings.TrimSpace(zone)
	if zone == "" {
		zone = DefaultZone
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Handler{
		provider: provider,
		zone:     dns.CanonicalName(zone),
		ttl:      ttl,
	}
}

func (h *Handler) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	if err := w.WriteMsg(h.answer(req)); err != nil {
		log.Debug("dns: failed to write response", "remote", w.RemoteAddr(), "error", err)
	}
}

func (h *Handler) answer(req *dns.Msg) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)

	if len(req.Question) != 1 {
		resp.SetRcode(req, dns.RcodeFormatError)
		return resp
	}
	q := req.Question[0]
	name := dns.CanonicalName(q.Name)

	if !dns.IsSubDomain(h.zone, name) {
		resp.SetRcode(req, dns.RcodeRefused)
		return resp
	}
	resp.Authoritative = true

	if name == h.zone {
		return resp
	}

	txt, ok := h.resolve(strings.TrimSuffix(name, "."+h.zone))
	if !ok {
		resp.SetRcode(req, dns.RcodeNameError)
		return resp
	}
	if q.Qtype != dns.TypeTXT && q.Qtype != dns.TypeANY {
		return resp
	}

	resp.Answer = append(resp.Answer, &dns.TXT{
		Hdr: dns.RR_Header{
			Name:   q.Name,
			Rrtype: dns.TypeTXT,
			Class:  dns.ClassINET,
			Ttl:    h.ttl,
		},
		Txt: splitTXT(txt),
	})
	return resp
}

// resolve answers the part of the query name below the zone.
func (h *Handler) resolve(relative string) (string, bool) {
	snap := h.provider.Current()
	if snap == nil {
		return "", false
	}

	labels := dns.SplitDomainName(relative)
	if len(labels) == 0 {
		return "", false
	}

	if len(labels) == 1 {
		number, ok := parseASLabel(labels[0])
		if !ok || number == 0 {
			return "", false
		}
		info, found := snap.LookupMeta(number)
		if !found {
			return "", false
		}
		return fmt.Sprintf("%d | %s | %s", number, info.Country, info.Description), true
	}

	var (
		ip netip.Addr
		ok bool
	)
	switch labels[len(labels)-1] {
	case "origin":
		ip, ok = parseReverseIPv4(labels[:len(labels)-1])
	case "origin6":
		ip, ok = parseReverseIPv6(labels[:len(labels)-1])
	}
	if !ok {
		return "", false
	}

	record, found := snap.LookupByIP(ip)
	if !found {
		return "", false
	}
	return fmt.Sprintf("%d | %s - %s | %s | %s", record.ASN, record.FirstIP, record.LastIP, record.Country, record.Description), true
}

func parseASLabel(label string) (uint32, bool) {
	if len(label) < 3 || !strings.EqualFold(label[:2], "as") {
		return 0, false
	}
	digits := label[2:]
	if digits[0] == '+' || digits[0] == '-' {
		return 0, false
	}
	n, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// parseReverseIPv4 turns "4.4.8.8" into 8.8.4.4.
func parseReverseIPv4(labels []string) (netip.Addr, bool) {
	if len(labels) != 4 {
		return netip.Addr{}, false
	}
	octets := slices.Clone(labels)
	slices.Reverse(octets)
	ip, err := netip.ParseAddr(strings.Join(octets, "."))
	if err != nil || !ip.Is4() {
		return netip.Addr{}, false
	}
	return ip, true
}

// parseReverseIPv6 reads 32 nibble labels, least significant first.
func parseReverseIPv6(labels []string) (netip.Addr, bool) {
	if len(labels) != 32 {
		return netip.Addr{}, false
	}
	var sb strings.Builder
	sb.Grow(32)
	for i := len(labels) - 1; i >= 0; i-- {
		if len(labels[i]) != 1 {
			return netip.Addr{}, false
		}
		sb.WriteString(labels[i])
	}

	raw, err := hex.DecodeString(sb.String())
	if err != nil {
		return netip.Addr{}, false
	}
	var b [16]byte
	copy(b[:], raw)
	return netip.AddrFrom16(b), true
}

// splitTXT cuts s into character-strings no longer than a TXT record allows.
func splitTXT(s string) []string {
	if len(s) <= maxTXTChunk {
		return []string{s}
	}
	var out []string
	for len(s) > maxTXTChunk {
		out = append(out, s[:maxTXTChunk])
		s = s[maxTXTChunk:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// ListenAndServe answers on addr over UDP and TCP until ctx is done.
func ListenAndServe(ctx context.Context, addr string, handler dns.Handler) error {
	packetConn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("dns server listen udp on %s: %w", addr, err)
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		_ = packetConn.Close()
		return fmt.Errorf("dns server listen tcp on %s: %w", addr, err)
	}
	return Serve(ctx, packetConn, listener, handler)
}

// Serve runs handler on already bound sockets and closes them once ctx is
// done.
func Serve(ctx context.Context, packetConn net.PacketConn, listener net.Listener, handler dns.Handler) error {
	udp := &dns.Server{PacketConn: packetConn, Handler: handler}
	tcp := &dns.Server{Listener: listener, Handler: handler}

	g, gctx := errgroup.WithContext(ctx)
	serve := func(server *dns.Server, network string) func() error {
		return func() error {
			err := server.ActivateAndServe()
			if err != nil && gctx.Err() == nil {
				return fmt.Errorf("dns server %s: %w", network, err)
			}
			return nil
		}
	}
	g.Go(serve(udp, "udp"))
	g.Go(serve(tcp, "tcp"))
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = udp.ShutdownContext(shutdownCtx)
		_ = tcp.ShutdownContext(shutdownCtx)
		_ = packetConn.Close()
		_ = listener.Close()
		return nil
	})

	log.Info("dns server ready", "udp", packetConn.LocalAddr().String(), "tcp", listener.Addr().String())

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
