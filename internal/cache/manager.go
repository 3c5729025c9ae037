package cache

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"ragtagcal/internal/feed"
	appLog "ragtagcal/internal/log"
)

// DefaultTTL is how long a refreshed cache stays valid when no TTL is
// configured.
const DefaultTTL = 12 * time.Hour

// Persisted artifact names under the cache directory. The three snapshots
// are JSON event arrays; the expiry marker is epoch milliseconds as text.
const (
	fileFull     = "full.json"
	fileMin      = "min.json"
	fileUpcoming = "upcoming.json"
	fileExpires  = "expires.txt"
)

// View names one of the three derived datasets.
type View string

const (
	ViewFull     View = "full"
	ViewMin      View = "min"
	ViewUpcoming View = "upcoming"
)

// ParseView validates a view name from the API boundary.
func ParseView(s string) (View, error) {
	switch View(s) {
	case ViewFull, ViewMin, ViewUpcoming:
		return View(s), nil
	}
	return "", &InvalidViewError{Name: s}
}

func fileForView(v View) string {
	switch v {
	case ViewMin:
		return fileMin
	case ViewUpcoming:
		return fileUpcoming
	default:
		return fileFull
	}
}

// Fetcher is the injected capability that retrieves the raw feed body.
// *feed.Fetcher satisfies it; tests substitute their own.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Datasets holds the three derived views computed from one fetch instant.
// Min and Upcoming are always derived from Full at FetchedAt, so no view is
// ever fresher than another.
type Datasets struct {
	Full     []feed.Event
	Min      []feed.Event
	Upcoming []feed.Event

	FetchedAt time.Time
	Expires   time.Time
}

// View returns the dataset matching the given view name.
func (d *Datasets) View(v View) []feed.Event {
	switch v {
	case ViewMin:
		return d.Min
	case ViewUpcoming:
		return d.Upcoming
	default:
		return d.Full
	}
}

// Manager owns the on-disk cache: three view snapshots plus one expiry
// marker, all refreshed together from a single fetch.
type Manager struct {
	dir     string
	ttl     time.Duration
	fetcher Fetcher

	// now is swappable for tests.
	now func() time.Time

	// group coalesces concurrent stale-triggered refreshes into one
	// in-flight fetch that all callers share.
	group singleflight.Group
}

// NewManager creates a Manager over the given cache directory. A ttl of
// zero or less falls back to DefaultTTL.
func NewManager(dir string, ttl time.Duration, fetcher Fetcher) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		dir:     dir,
		ttl:     ttl,
		fetcher: fetcher,
		now:     time.Now,
	}
}

// Init bootstraps the cache on startup: if the cache directory does not
// exist yet, it is created and filled by an initial refresh. An existing
// directory is left alone. Callers should abort startup on error.
func (m *Manager) Init(ctx context.Context) error {
	_, err := os.Stat(m.dir)
	if err == nil {
		appLog.Debug("cache dir exists, skipping bootstrap", "dir", m.dir)
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return &InitError{Err: err}
	}

	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return &InitError{Err: err}
	}
	if _, err := m.Refresh(ctx); err != nil {
		return &InitError{Err: err}
	}

	appLog.Info("cache bootstrapped", "dir", m.dir)
	return nil
}

// Refresh unconditionally re-fetches the feed, recomputes all three views
// and the expiry marker, persists them, and returns the result.
//
// Nothing is written until fetch, parse and derivation have all succeeded,
// so a failed refresh leaves the previously persisted state untouched.
func (m *Manager) Refresh(ctx context.Context) (*Datasets, error) {
	events, err := m.fetchAndParse(ctx)
	if err != nil {
		return nil, err
	}

	ds := m.derive(events)
	if err := m.persist(ds); err != nil {
		return nil, err
	}

	appLog.Info("cache refreshed",
		"full", len(ds.Full),
		"min", len(ds.Min),
		"upcoming", len(ds.Upcoming),
		"expires", ds.Expires.Format(time.RFC3339),
	)
	return ds, nil
}

// Get serves one view from the persisted cache, refreshing first when the
// expiry marker says the cache is stale (or the marker itself is
// unreadable). A snapshot that fails to read or decode is repaired by a
// refresh rather than surfaced, so only refresh failures propagate.
func (m *Manager) Get(ctx context.Context, view View) ([]feed.Event, error) {
	if _, err := ParseView(string(view)); err != nil {
		return nil, err
	}

	expires, err := m.readExpiry()
	if err != nil {
		appLog.Warn("expiry marker unreadable, refreshing", "reason", err)
	} else if m.now().Before(expires) {
		events, rerr := m.readView(view)
		if rerr == nil {
			return events, nil
		}
		appLog.Error("cached view unreadable, refreshing", rerr, "view", string(view))
	}

	ds, err := m.refreshShared(ctx)
	if err != nil {
		return nil, err
	}
	return ds.View(view), nil
}

// GetFresh bypasses the cache entirely: fetch and parse only, no expiry
// check and no persistence.
func (m *Manager) GetFresh(ctx context.Context) ([]feed.Event, error) {
	return m.fetchAndParse(ctx)
}

// refreshShared funnels concurrent refreshes through singleflight so a
// burst of stale Gets triggers exactly one upstream fetch.
func (m *Manager) refreshShared(ctx context.Context) (*Datasets, error) {
	v, err, shared := m.group.Do("refresh", func() (any, error) {
		return m.Refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		appLog.Debug("refresh coalesced with in-flight refresh")
	}
	return v.(*Datasets), nil
}

func (m *Manager) fetchAndParse(ctx context.Context) ([]feed.Event, error) {
	body, err := m.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return feed.Parse(body)
}

// derive computes the three views from one sorted event sequence at one
// instant. Events are sorted by start descending, so the first half is the
// future-leaning half.
func (m *Manager) derive(events []feed.Event) *Datasets {
	now := m.now()

	upcoming := make([]feed.Event, 0)
	for _, ev := range events {
		if ev.Start.After(now) {
			upcoming = append(upcoming, ev)
		}
	}

	return &Datasets{
		Full:      events,
		Min:       events[:len(events)/2],
		Upcoming:  upcoming,
		FetchedAt: now,
		Expires:   now.Add(m.ttl),
	}
}

// persist writes the four artifacts, each atomically (temp file + rename).
// Snapshots land before the expiry marker: a crash mid-persist can only
// leave a stale marker next to new data, which self-heals on the next read.
// The cache dir is created on demand so a bare Refresh works on a fresh
// machine without a prior Init.
func (m *Manager) persist(ds *Datasets) error {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return errors.Wrap(err, "create cache dir")
	}

	views := []struct {
		name   string
		events []feed.Event
	}{
		{fileFull, ds.Full},
		{fileMin, ds.Min},
		{fileUpcoming, ds.Upcoming},
	}

	for _, v := range views {
		data, err := json.Marshal(v.events)
		if err != nil {
			return errors.Wrapf(err, "encode %s", v.name)
		}
		if err := m.writeArtifact(v.name, data); err != nil {
			return errors.Wrapf(err, "persist %s", v.name)
		}
	}

	marker := strconv.FormatInt(ds.Expires.UnixMilli(), 10)
	if err := m.writeArtifact(fileExpires, []byte(marker)); err != nil {
		return errors.Wrapf(err, "persist %s", fileExpires)
	}

	return nil
}

func (m *Manager) readExpiry() (time.Time, error) {
	path := filepath.Join(m.dir, fileExpires)
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, &ReadError{Path: path, Err: err}
	}
	millis, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}, &ReadError{Path: path, Err: err}
	}
	return time.UnixMilli(millis), nil
}

func (m *Manager) readView(view View) ([]feed.Event, error) {
	path := filepath.Join(m.dir, fileForView(view))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	var events []feed.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	return events, nil
}

// writeArtifact writes one artifact atomically: temp file in the cache dir,
// sync, chmod, rename over the target.
func (m *Manager) writeArtifact(name string, data []byte) error {
	tmp, err := os.CreateTemp(m.dir, "."+name+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(m.dir, name))
}
