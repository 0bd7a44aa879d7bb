package asn

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"

	"iptoasn/internal/domain"
)

const (
	fieldDelimiter = "\t"
	maxLineBytes   = 1 << 20
)

var (
	// ErrDecompress is returned when the payload is not a readable gzip stream.
	ErrDecompress = errors.New("asn: unable to decompress the database")

	errInvalidIP    = errors.New("invalid IP address")
	errInvalidASN   = errors.New("invalid ASN number")
	errInvalidRange = errors.New("invalid range")
)

// Stats are the counters collected while a dataset is parsed.
type Stats struct {
	Records      int `json:"records"`
	Skipped      int `json:"skipped"`
	Collisions   int `json:"collisions"`
	Countries    int `json:"countries"`
	Descriptions int `json:"descriptions"`
	Conflicts    int `json:"conflicts"`
}

// Parse decompresses a gzip'd ip2asn dataset and builds a Snapshot from it.
// Bad rows are logged and skipped; only a broken gzip stream fails the parse.
func Parse(data []byte, origin string) (*Snapshot, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompress, err)
	}
	defer gz.Close()

	b := newBuilder(estimateRows(len(data)))
	if err := b.readLines(gz); err != nil {
		return nil, err
	}

	snap := b.finish(origin, Digest(data))
	log.Info("Database loaded",
		"entries", snap.stats.Records,
		"skipped", snap.stats.Skipped,
		"countries", snap.stats.Countries,
		"descriptions", snap.stats.Descriptions,
	)
	return snap, nil
}

// Digest fingerprints a compressed payload. Two payloads with the same digest
// are treated as the same dataset.
func Digest(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Build creates a Snapshot from records that are already parsed. Records go
// through the same interning, validation and registry rules as Parse.
func Build(records []domain.Record, origin string) *Snapshot {
	b := newBuilder(len(records))
	for _, rec := range records {
		if !rec.Valid() {
			b.stats.Skipped++
			continue
		}
		b.add(rec)
	}
	return b.finish(origin, 0)
}

type builder struct {
	countries    *Pool
	descriptions *Pool
	registry     *Registry
	records      []domain.Record
	stats        Stats
}

func newBuilder(capacity int) *builder {
	return &builder{
		countries:    NewPool(256),
		descriptions: NewPool(capacity / 8),
		registry:     newRegistry(capacity / 8),
		records:      make([]domain.Record, 0, capacity),
	}
}

func (b *builder) readLines(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		rec, err := parseLine(line)
		if err != nil {
			b.stats.Skipped++
			log.Warn(err.Error()+" in line", "line", line)
			continue
		}
		b.add(rec)
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("asn: read dataset: %w", err)
		}
		return fmt.Errorf("%w: %w", ErrDecompress, err)
	}
	return nil
}

func (b *builder) add(rec domain.Record) {
	rec.Country = b.countries.Intern(rec.Country)
	rec.Description = b.descriptions.Intern(rec.Description)
	b.records = append(b.records, rec)

	if b.registry.add(rec.ASN, domain.ASInfo{Country: rec.Country, Description: rec.Description}) {
		b.stats.Conflicts++
		log.Debug("AS seen with different metadata, keeping first", "asn", rec.ASN, "description", rec.Description)
	}
}

func (b *builder) finish(origin string, digest uint64) *Snapshot {
	index, collisions := buildIndex(b.records)
	b.records = nil

	b.stats.Records = index.Len()
	b.stats.Collisions = collisions
	b.stats.Countries = b.countries.Len()
	b.stats.Descriptions = b.descriptions.Len()

	return newSnapshot(index, b.registry, b.stats, origin, digest)
}

// parseLine splits one row into first_ip, last_ip, as_number, country and
// description. Missing trailing text fields default to empty strings; any
// fields past the fifth are ignored.
func parseLine(line string) (domain.Record, error) {
	fields := strings.SplitN(line, fieldDelimiter, 6)
	field := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	first, err := parseAddr(field(0))
	if err != nil {
		return domain.Record{}, err
	}
	last, err := parseAddr(field(1))
	if err != nil {
		return domain.Record{}, err
	}

	number, err := strconv.ParseUint(field(2), 10, 32)
	if err != nil {
		return domain.Record{}, errInvalidASN
	}

	rec := domain.Record{
		FirstIP:     first,
		LastIP:      last,
		ASN:         uint32(number),
		Country:     field(3),
		Description: field(4),
	}
	if !rec.Valid() {
		return domain.Record{}, errInvalidRange
	}
	return rec, nil
}

// parseAddr accepts plain IPv4 and IPv6 text. Zoned addresses are rejected.
func parseAddr(raw string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(raw)
	if err != nil || addr.Zone() != "" {
		return netip.Addr{}, errInvalidIP
	}
	return addr, nil
}

// estimateRows guesses the row count from the compressed size so the record
// slice is not regrown a dozen times on a full dataset.
func estimateRows(compressed int) int {
	const compressedBytesPerRow = 12
	n := compressed / compressedBytesPerRow
	if n < 64 {
		return 64
	}
	return n
}
