package snapshot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"iptoasn/internal/asn"
	"iptoasn/internal/domain"
	"iptoasn/internal/loader"
)

// Source produces raw compressed dataset bytes. *loader.Loader satisfies it.
type Source interface {
	Load(ctx context.Context) (loader.Result, error)
}

// Observer is notified after every load attempt. Observers run on the
// reloading goroutine and must not block for long.
type Observer func(LoadReport)

// LoadReport describes one load attempt.
type LoadReport struct {
	Outcome  string
	Origin   string
	Digest   string
	Stats    asn.Stats
	Duration time.Duration
	Err      error
	// Network is true when the bytes were freshly downloaded.
	Network bool
	// Data holds the compressed bytes of an installed network download so
	// observers can hand them to other instances. Nil otherwise.
	Data []byte
	At   time.Time
}

// ReloadResult is what a successful Reload or InstallBytes did.
type ReloadResult struct {
	Installed bool
	Unchanged bool
	Snapshot  *asn.Snapshot
}

// Controller owns the currently served Snapshot. Readers call Current and
// keep the returned pointer for as long as they need it; writers build a new
// Snapshot off to the side and swap the pointer only once it is complete.
type Controller struct {
	source  Source
	current atomic.Pointer[asn.Snapshot]
	last    atomic.Pointer[LoadReport]
	group   singleflight.Group
	// installMu serializes the digest check and swap in install.
	installMu sync.Mutex

	observersMu sync.RWMutex
	observers   []Observer
}

func NewController(source Source) *Controller {
	return &Controller{source: source}
}

// Bootstrap performs the initial load. The caller must treat an error as
// fatal: nothing may be served before a snapshot is installed.
func (c *Controller) Bootstrap(ctx context.Context) error {
	if _, err := c.Reload(ctx); err != nil {
		return fmt.Errorf("snapshot: initial load: %w", err)
	}
	return nil
}

// Current returns the installed snapshot. It never blocks on a reload in
// progress. Nil only before Bootstrap has succeeded.
func (c *Controller) Current() *asn.Snapshot {
	return c.current.Load()
}

// LastReport returns the most recent load attempt, if any.
func (c *Controller) LastReport() (LoadReport, bool) {
	report := c.last.Load()
	if report == nil {
		return LoadReport{}, false
	}
	return *report, true
}

// Subscribe registers an observer for future load attempts.
func (c *Controller) Subscribe(observer Observer) {
	if observer == nil {
		return
	}
	c.observersMu.Lock()
	c.observers = append(c.observers, observer)
	c.observersMu.Unlock()
}

// Reload fetches and parses a fresh dataset and installs it. Concurrent
// callers share one attempt. On any failure the installed snapshot is left
// untouched and the error is returned; the caller decides how loud to be.
func (c *Controller) Reload(ctx context.Context) (ReloadResult, error) {
	value, err, _ := c.group.Do("reload", func() (interface{}, error) {
		started := time.Now()

		res, err := c.source.Load(ctx)
		if err != nil {
			c.notify(LoadReport{Outcome: domain.LoadOutcomeFailed, Err: err, Duration: time.Since(started)})
			return ReloadResult{}, err
		}

		return c.install(res.Data, res.Origin, res.Network, started)
	})

	result, _ := value.(ReloadResult)
	return result, err
}

// InstallBytes parses data obtained outside the configured source, such as
// from a peer instance, and installs it under the same rules as Reload. It
// never joins a Reload in flight: the given bytes are always considered.
func (c *Controller) InstallBytes(data []byte, origin string) (ReloadResult, error) {
	return c.install(data, origin, false, time.Now())
}

func (c *Controller) install(data []byte, origin string, network bool, started time.Time) (ReloadResult, error) {
	c.installMu.Lock()
	defer c.installMu.Unlock()

	if current := c.current.Load(); current != nil && current.Digest() != 0 && current.Digest() == asn.Digest(data) {
		log.Info("Database unchanged, keeping the installed snapshot", "origin", origin, "digest", current.DigestHex())
		c.notify(LoadReport{
			Outcome:  domain.LoadOutcomeUnchanged,
			Origin:   origin,
			Digest:   current.DigestHex(),
			Stats:    current.Stats(),
			Duration: time.Since(started),
			Network:  network,
		})
		return ReloadResult{Unchanged: true, Snapshot: current}, nil
	}

	snap, err := asn.Parse(data, origin)
	if err != nil {
		c.notify(LoadReport{Outcome: domain.LoadOutcomeFailed, Origin: origin, Err: err, Duration: time.Since(started), Network: network})
		return ReloadResult{}, err
	}

	c.current.Store(snap)

	report := LoadReport{
		Outcome:  domain.LoadOutcomeInstalled,
		Origin:   origin,
		Digest:   snap.DigestHex(),
		Stats:    snap.Stats(),
		Duration: time.Since(started),
		Network:  network,
	}
	if network {
		report.Data = data
	}
	c.notify(report)

	return ReloadResult{Installed: true, Snapshot: snap}, nil
}

// Install swaps in a snapshot built elsewhere, for tests and tools that
// construct records in memory.
func (c *Controller) Install(snap *asn.Snapshot) {
	c.current.Store(snap)
}

func (c *Controller) notify(report LoadReport) {
	report.At = time.Now().UTC()
	c.last.Store(&report)

	c.observersMu.RLock()
	observers := append([]Observer(nil), c.observers...)
	c.observersMu.RUnlock()

	for _, observer := range observers {
		observer(report)
	}
}
