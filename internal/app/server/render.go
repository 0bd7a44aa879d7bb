package server

import (
	"bytes"
	"html/template"
	"net/http"
)

var lookupPage = template.Must(template.New("lookup").Parse(`<!DOCTYPE html>
<html><head><title>iptoasn lookup</title><meta name="viewport" content="width=device-width, initial-scale=1"><style>body { margin: 1em 4em; font-family: sans-serif } th { text-align: left; padding-right: 1em }</style></head>
<body><header><h1>Information for IP address: {{.IP}}</h1></header>
<table>
<tr><th>Announced</th><td>{{if .Announced}}Yes{{else}}No{{end}}</td></tr>
{{- if .Announced}}
<tr><th>AS Number</th><td>AS{{.ASNumber}}</td></tr>
<tr><th>AS Range</th><td>{{.FirstIP}} - {{.LastIP}}</td></tr>
<tr><th>AS Country Code</th><td>{{.ASCountryCode}}</td></tr>
<tr><th>AS Description</th><td>{{.ASDescription}}</td></tr>
{{- end}}
</table>
<footer><p><small>Powered by <a href="https://iptoasn.com">iptoasn.com</a></small></p></footer>
</body></html>
`))

type lookupView struct {
	IP            string
	Announced     bool
	FirstIP       string
	LastIP        string
	ASNumber      uint32
	ASCountryCode string
	ASDescription string
}

func newLookupView(l ipLookup) lookupView {
	view := lookupView{IP: l.IP, Announced: l.Announced}
	if l.Announced {
		view.FirstIP = *l.FirstIP
		view.LastIP = *l.LastIP
		view.ASNumber = *l.ASNumber
		view.ASCountryCode = *l.ASCountryCode
		view.ASDescription = *l.ASDescription
	}
	return view
}

func writeHTML(w http.ResponseWriter, status int, l ipLookup) {
	var buf bytes.Buffer
	if err := lookupPage.Execute(&buf, newLookupView(l)); err != nil {
		writeError(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
