package server

import (
	"net/http"
	"strconv"
	"strings"

	"iptoasn/internal/asn"
	"iptoasn/internal/cidr"
)

type asView struct {
	ASNumber      uint32 `json:"as_number"`
	ASCountryCode string `json:"as_country_code"`
	ASDescription string `json:"as_description"`
}

type subnetsView struct {
	ASNumber uint32   `json:"as_number"`
	Subnets  []string `json:"subnets"`
}

// parseASN accepts "15169" and "AS15169" in any case.
func parseASN(raw string) (uint32, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) > 2 && strings.EqualFold(raw[:2], "as") {
		raw = raw[2:]
	}
	if raw == "" || raw[0] == '+' || raw[0] == '-' {
		return 0, false
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// lookupAS resolves the {asn} path value, answering 400 or 404 itself when
// it cannot.
func (a *api) lookupAS(w http.ResponseWriter, r *http.Request) (*asn.Snapshot, asView, bool) {
	number, ok := parseASN(r.PathValue("asn"))
	if !ok {
		writeError(w, "Invalid AS number", http.StatusBadRequest)
		return nil, asView{}, false
	}

	snap := a.Snapshots.Current()
	if number == 0 || snap == nil {
		writeError(w, "AS not found", http.StatusNotFound)
		return nil, asView{}, false
	}
	info, found := snap.LookupMeta(number)
	if !found {
		writeError(w, "AS not found", http.StatusNotFound)
		return nil, asView{}, false
	}
	return snap, asView{ASNumber: number, ASCountryCode: info.Country, ASDescription: info.Description}, true
}

func (a *api) getAS(w http.ResponseWriter, r *http.Request) {
	_, view, ok := a.lookupAS(w, r)
	if !ok {
		return
	}
	if wantsText(r) {
		writeText(w, http.StatusOK, asLine(view)+"\n")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *api) getASSubnets(w http.ResponseWriter, r *http.Request) {
	snap, view, ok := a.lookupAS(w, r)
	if !ok {
		return
	}

	subnets := make([]string, 0)
	for _, rng := range snap.CollectRanges(view.ASNumber) {
		subnets = append(subnets, cidr.RangeToCIDRs(rng.First, rng.Last)...)
	}

	if wantsText(r) {
		body := strings.Join(subnets, "\n")
		if body != "" {
			body += "\n"
		}
		writeText(w, http.StatusOK, body)
		return
	}
	writeJSON(w, http.StatusOK, subnetsView{ASNumber: view.ASNumber, Subnets: subnets})
}

func (a *api) listAS(w http.ResponseWriter, r *http.Request) {
	snap := a.Snapshots.Current()
	views := make([]asView, 0)
	if snap != nil {
		numbers := snap.ASNumbers()
		views = make([]asView, 0, len(numbers))
		for _, number := range numbers {
			info, _ := snap.LookupMeta(number)
			views = append(views, asView{ASNumber: number, ASCountryCode: info.Country, ASDescription: info.Description})
		}
	}

	if wantsText(r) {
		var sb strings.Builder
		for _, view := range views {
			sb.WriteString(asLine(view))
			sb.WriteByte('\n')
		}
		writeText(w, http.StatusOK, sb.String())
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func asLine(view asView) string {
	return "AS" + strconv.FormatUint(uint64(view.ASNumber), 10) + "\t" + view.ASCountryCode + "\t" + view.ASDescription
}
