// Package annotate rewrites free text so that every IP address in it is
// followed by the AS that announces it.
package annotate

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"iptoasn/internal/domain"
)

var ErrInvalidMarkers = errors.New("annotate: --as-markers must be exactly two characters")

// ipPattern finds dotted IPv4 addresses, the ::ffff: prefix of mapped
// addresses and IPv6 addresses. The mapped prefix is matched on its own so
// the dotted quad after it is annotated by the IPv4 branch. IPv6 matches keep
// one delimiter on each side since \b does not work next to ':'.
var ipPattern = regexp.MustCompile(
	`\b(?P<ip4>(?:\d{1,3}\.){3}\d{1,3})\b` +
		`|(?P<premapped>^|[^0-9A-Fa-f:])(?P<mapped>::[Ff]{4}:)` +
		`|(?P<pre>^|[^0-9A-Fa-f:])(?P<ip6>(?:[0-9A-Fa-f]{0,4}:){2,7}[0-9A-Fa-f]{0,4}|::)(?P<post>[^0-9A-Fa-f:]|$)`,
)

var (
	groupIP4       = ipPattern.SubexpIndex("ip4")
	groupPreMapped = ipPattern.SubexpIndex("premapped")
	groupMapped    = ipPattern.SubexpIndex("mapped")
	groupPre       = ipPattern.SubexpIndex("pre")
	groupIP6       = ipPattern.SubexpIndex("ip6")
	groupPost      = ipPattern.SubexpIndex("post")
)

// Lookuper resolves an address to its announced record.
type Lookuper interface {
	LookupByIP(ip netip.Addr) (domain.Record, bool)
}

type Options struct {
	Open        string
	Close       string
	Separator   string
	Description bool
}

func DefaultOptions() Options {
	return Options{Open: "[", Close: "]", Separator: ", "}
}

// ParseMarkers splits a two character marker pair such as "[]" or "<>".
func ParseMarkers(pair string) (string, string, error) {
	if utf8.RuneCountInString(pair) != 2 {
		return "", "", fmt.Errorf("%w, e.g. \"[]\" or \"<>\", got %q", ErrInvalidMarkers, pair)
	}
	open, size := utf8.DecodeRuneInString(pair)
	return string(open), pair[size:], nil
}

// Annotator is not safe for concurrent use; its memo cache lives for one run.
type Annotator struct {
	lookup Lookuper
	opts   Options
	memo   map[string]string
}

func New(lookup Lookuper, opts Options) *Annotator {
	return &Annotator{
		lookup: lookup,
		opts:   opts,
		memo:   make(map[string]string),
	}
}

// Line annotates every address in line.
func (a *Annotator) Line(line string) string {
	matches := ipPattern.FindAllStringSubmatchIndex(line, -1)
	if len(matches) == 0 {
		return line
	}

	var sb strings.Builder
	sb.Grow(len(line) + len(matches)*24)
	last := 0
	for _, m := range matches {
		sb.WriteString(line[last:m[0]])
		last = m[1]

		group := func(i int) string {
			if m[2*i] < 0 {
				return ""
			}
			return line[m[2*i]:m[2*i+1]]
		}

		switch {
		case m[2*groupIP4] >= 0:
			sb.WriteString(a.Token(group(groupIP4)))
		case m[2*groupMapped] >= 0:
			sb.WriteString(group(groupPreMapped))
			sb.WriteString(group(groupMapped))
		case m[2*groupIP6] >= 0:
			sb.WriteString(group(groupPre))
			sb.WriteString(a.Token(group(groupIP6)))
			sb.WriteString(group(groupPost))
		default:
			sb.WriteString(line[m[0]:m[1]])
		}
	}
	sb.WriteString(line[last:])
	return sb.String()
}

// Token annotates a single candidate address. Tokens that do not parse are
// returned unchanged.
func (a *Annotator) Token(token string) string {
	if cached, ok := a.memo[token]; ok {
		return cached
	}

	out := token
	if ip, err := netip.ParseAddr(token); err == nil {
		out = a.format(token, ip)
	}
	a.memo[token] = out
	return out
}

func (a *Annotator) format(token string, ip netip.Addr) string {
	number, country, description := "0", "None", "Not announced"
	if record, ok := a.lookup.LookupByIP(ip); ok {
		number = strconv.FormatUint(uint64(record.ASN), 10)
		country = record.Country
		description = record.Description
	}

	var sb strings.Builder
	sb.WriteString(token)
	sb.WriteByte(' ')
	sb.WriteString(a.opts.Open)
	sb.WriteString("AS")
	sb.WriteString(number)
	sb.WriteString(a.opts.Separator)
	sb.WriteString(country)
	if a.opts.Description {
		sb.WriteString(a.opts.Separator)
		sb.WriteString(description)
	}
	sb.WriteString(a.opts.Close)
	return sb.String()
}

// Run annotates r line by line into w. With flushEachLine every line is
// written through as soon as it is annotated.
func (a *Annotator) Run(r io.Reader, w io.Writer, flushEachLine bool) error {
	reader := bufio.NewReader(r)
	out := bufio.NewWriter(w)

	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			if _, err := out.WriteString(a.Line(line) + "\n"); err != nil {
				return fmt.Errorf("annotate: write output: %w", err)
			}
			if flushEachLine {
				if err := out.Flush(); err != nil {
					return fmt.Errorf("annotate: write output: %w", err)
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fmt.Errorf("annotate: read input: %w", readErr)
		}
	}

	if err := out.Flush(); err != nil {
		return fmt.Errorf("annotate: write output: %w", err)
	}
	return nil
}
