package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"iptoasn/internal/config"
)

type outputType int

const (
	outputHTML outputType = iota
	outputJSON
	outputText
)

// lookupOutput picks the representation of a single-address lookup. JSON
// wins when asked for, then plain text; everything else, browsers and */*
// included, gets HTML.
func lookupOutput(r *http.Request) outputType {
	accept := r.Header.Get("Accept")
	switch {
	case strings.Contains(accept, "application/json"):
		return outputJSON
	case strings.Contains(accept, "text/plain"):
		return outputText
	default:
		return outputHTML
	}
}

// wantsText reports whether a JSON-by-default endpoint should answer in plain
// text instead.
func wantsText(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/plain") && !strings.Contains(accept, "application/json")
}

func cacheMaxAge() time.Duration {
	seconds := config.GetConfig().Server.CacheMaxAgeSeconds
	if seconds == 0 {
		seconds = 86400
	}
	return time.Duration(seconds) * time.Second
}

// setCacheHeaders marks a lookup answer cacheable for the configured TTL.
// The ETag follows the dataset digest, so it changes on every reload.
func setCacheHeaders(h http.Header, digest string) {
	ttl := cacheMaxAge()
	h.Set("Cache-Control", "max-age="+strconv.Itoa(int(ttl.Seconds())))
	h.Set("Expires", time.Now().Add(ttl).UTC().Format(http.TimeFormat))
	h.Set("Vary", "Accept")
	if digest != "" {
		h.Set("ETag", `W/"`+digest+`"`)
	}
}

// setPrivateCacheHeaders marks an answer that depends on who asked. Shared
// caches must not keep it.
func setPrivateCacheHeaders(h http.Header) {
	h.Set("Cache-Control", "private, no-store")
	h.Set("Vary", "Accept")
}

func notModified(r *http.Request, digest string) bool {
	if digest == "" {
		return false
	}
	match := r.Header.Get("If-None-Match")
	if match == "" {
		return false
	}
	etag := `W/"` + digest + `"`
	for _, candidate := range strings.Split(match, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == etag || candidate == `"`+digest+`"` || candidate == "*" {
			return true
		}
	}
	return false
}
