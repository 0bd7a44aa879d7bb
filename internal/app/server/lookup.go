package server

import (
	"net/netip"
	"strconv"
	"strings"

	"iptoasn/internal/asn"
)

// ipLookup is the JSON body of an address lookup. Range and AS fields are
// left out entirely when the address is not announced.
type ipLookup struct {
	IP            string  `json:"ip"`
	Announced     bool    `json:"announced"`
	FirstIP       *string `json:"first_ip,omitempty"`
	LastIP        *string `json:"last_ip,omitempty"`
	ASNumber      *uint32 `json:"as_number,omitempty"`
	ASCountryCode *string `json:"as_country_code,omitempty"`
	ASDescription *string `json:"as_description,omitempty"`
}

// resolve looks raw up in snap. Input that does not parse as an address is
// echoed back unannounced.
func resolve(snap *asn.Snapshot, raw string) ipLookup {
	raw = strings.TrimSpace(raw)
	ip, err := netip.ParseAddr(raw)
	if err != nil || ip.Zone() != "" {
		return ipLookup{IP: raw}
	}

	result := ipLookup{IP: ip.String()}
	if snap == nil {
		return result
	}
	record, ok := snap.LookupByIP(ip)
	if !ok {
		return result
	}

	first := record.FirstIP.String()
	last := record.LastIP.String()
	number := record.ASN
	country := record.Country
	description := record.Description

	result.Announced = true
	result.FirstIP = &first
	result.LastIP = &last
	result.ASNumber = &number
	result.ASCountryCode = &country
	result.ASDescription = &description
	return result
}

func (l ipLookup) textLine() string {
	if !l.Announced {
		return l.IP + "\tNot announced"
	}
	return strings.Join([]string{
		l.IP,
		"AS" + strconv.FormatUint(uint64(*l.ASNumber), 10),
		*l.FirstIP,
		*l.LastIP,
		*l.ASCountryCode,
		*l.ASDescription,
	}, "\t")
}
