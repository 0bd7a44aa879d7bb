package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"iptoasn/internal/config"
)

const maxBulkBodyBytes = 1 << 20

func index(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "iptoasn-webservice\n")
}

func (a *api) lookupIP(w http.ResponseWriter, r *http.Request) {
	snap := a.Snapshots.Current()
	digest := ""
	if snap != nil {
		digest = snap.DigestHex()
	}

	setCacheHeaders(w.Header(), digest)
	if notModified(r, digest) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeLookup(w, r, resolve(snap, r.PathValue("ip")))
}

// lookupRequester answers for the caller's own address, so the response is
// never shared between clients and is never revalidated by ETag.
func (a *api) lookupRequester(w http.ResponseWriter, r *http.Request) {
	setPrivateCacheHeaders(w.Header())
	ip := clientIP(r, config.GetConfig().Server.TrustProxyHeaders)
	writeLookup(w, r, resolve(a.Snapshots.Current(), ip))
}

func writeLookup(w http.ResponseWriter, r *http.Request, result ipLookup) {
	switch lookupOutput(r) {
	case outputJSON:
		writeJSON(w, http.StatusOK, result)
	case outputText:
		writeText(w, http.StatusOK, result.textLine()+"\n")
	default:
		writeHTML(w, http.StatusOK, result)
	}
}

func (a *api) lookupBulk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBulkBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	addresses, err := parseBulkBody(r.Header.Get("Content-Type"), body)
	if err != nil {
		log.Debug("Rejected bulk lookup body", "error", err)
		writeError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	limit := config.GetConfig().Server.MaxBulkAddresses
	if limit <= 0 {
		limit = 10000
	}
	if len(addresses) > limit {
		writeError(w, fmt.Sprintf("Too many addresses: %d (max %d)", len(addresses), limit), http.StatusBadRequest)
		return
	}

	snap := a.Snapshots.Current()
	results := make([]ipLookup, 0, len(addresses))
	for _, raw := range addresses {
		results = append(results, resolve(snap, raw))
	}

	if wantsText(r) {
		var sb strings.Builder
		for _, result := range results {
			sb.WriteString(result.textLine())
			sb.WriteByte('\n')
		}
		writeText(w, http.StatusOK, sb.String())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// parseBulkBody accepts either a JSON array of strings or whitespace
// separated addresses.
func parseBulkBody(contentType string, body []byte) ([]string, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.Contains(contentType, "application/json") || strings.HasPrefix(trimmed, "[") {
		var addresses []string
		if err := json.Unmarshal([]byte(trimmed), &addresses); err != nil {
			return nil, err
		}
		return addresses, nil
	}
	return strings.Fields(trimmed), nil
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
