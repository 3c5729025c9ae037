package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragtagcal/internal/cache"
	"ragtagcal/internal/calendar"
	"ragtagcal/internal/config"
	"ragtagcal/internal/feed"
)

type stubFetcher struct {
	mu    sync.Mutex
	body  []byte
	err   error
	calls int
}

func (f *stubFetcher) Fetch(_ context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// stubFeed builds an ICS body with one future and one past event relative
// to the real clock, since the web layer runs on time.Now.
func stubFeed(t *testing.T) []byte {
	t.Helper()
	now := time.Now().UTC()
	events := []struct {
		summary  string
		start    time.Time
		location string
	}{
		{"Future Show", now.Add(24 * time.Hour), "$10"},
		{"Past Show", now.Add(-48 * time.Hour), "$5"},
	}
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//ragtagcal//test//EN\r\n")
	for i, ev := range events {
		b.WriteString("BEGIN:VEVENT\r\n")
		fmt.Fprintf(&b, "UID:web-%d@test\r\n", i)
		fmt.Fprintf(&b, "DTSTAMP:%s\r\n", now.Format("20060102T150405Z"))
		fmt.Fprintf(&b, "DTSTART:%s\r\n", ev.start.Format("20060102T150405Z"))
		fmt.Fprintf(&b, "SUMMARY:%s\r\n", ev.summary)
		fmt.Fprintf(&b, "LOCATION:%s\r\n", ev.location)
		b.WriteString("END:VEVENT\r\n")
	}
	b.WriteString("END:VCALENDAR\r\n")
	return []byte(b.String())
}

func newTestServer(t *testing.T) (*httptest.Server, *stubFetcher) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.CacheDir = filepath.Join(t.TempDir(), "cache")

	fetcher := &stubFetcher{body: stubFeed(t)}
	mgr := cache.NewManager(cfg.CacheDir, cfg.TTL(), fetcher)
	require.NoError(t, mgr.Init(context.Background()))

	ts := httptest.NewServer(NewServer(cfg, mgr).Handler())
	t.Cleanup(ts.Close)
	return ts, fetcher
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetICSViews(t *testing.T) {
	ts, fetcher := newTestServer(t)

	for _, typ := range []string{"full", "min", "upcoming"} {
		t.Run(typ, func(t *testing.T) {
			var events []map[string]string
			resp := getJSON(t, ts.URL+"/get-ics/"+typ, &events)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
		})
	}

	// All three served from the bootstrap fetch.
	assert.Equal(t, 1, fetcher.callCount())

	var full []map[string]string
	getJSON(t, ts.URL+"/get-ics/full", &full)
	require.Len(t, full, 2)
	assert.Equal(t, "Future Show", full[0]["summary"])
	assert.Equal(t, "$10", full[0]["price"])

	var upcoming []map[string]string
	getJSON(t, ts.URL+"/get-ics/upcoming", &upcoming)
	require.Len(t, upcoming, 1)
	assert.Equal(t, "Future Show", upcoming[0]["summary"])
}

func TestGetICSInvalidType(t *testing.T) {
	ts, _ := newTestServer(t)

	var payload map[string]any
	resp := getJSON(t, ts.URL+"/get-ics/everything", &payload)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Nil(t, payload["data"])
	assert.Nil(t, payload["message"])
	assert.Contains(t, payload["error"], "not a valid view")
}

func TestGetICSFreshBypassesCache(t *testing.T) {
	ts, fetcher := newTestServer(t)
	base := fetcher.callCount()

	for i := 0; i < 2; i++ {
		var events []map[string]string
		resp := getJSON(t, ts.URL+"/get-ics/fresh", &events)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, events, 2)
	}

	assert.Equal(t, base+2, fetcher.callCount(), "fresh must fetch every time")
}

func TestGetICSFetchErrorPayload(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CacheDir = t.TempDir()

	// The cache dir exists but holds no artifacts, so the first Get goes
	// straight to a refresh, which fails upstream with a non-success
	// status from the real fetcher.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(upstream.Close)

	mgr := cache.NewManager(cfg.CacheDir, cfg.TTL(), feed.NewFetcher(upstream.URL))
	ts := httptest.NewServer(NewServer(cfg, mgr).Handler())
	t.Cleanup(ts.Close)

	var payload map[string]any
	resp := getJSON(t, ts.URL+"/get-ics/full", &payload)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	errMsg, _ := payload["error"].(string)
	assert.True(t, strings.HasPrefix(errMsg, "request error:"),
		"fetch failures must be distinguishable, got %q", errMsg)
}

func TestGetICSInternalErrorPayload(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CacheDir = t.TempDir()

	// Fetch succeeds but the body is not a calendar: a parse failure is an
	// internal error, not a request error.
	fetcher := &stubFetcher{body: []byte("hello")}
	mgr := cache.NewManager(cfg.CacheDir, cfg.TTL(), fetcher)
	ts := httptest.NewServer(NewServer(cfg, mgr).Handler())
	t.Cleanup(ts.Close)

	var payload map[string]any
	resp := getJSON(t, ts.URL+"/get-ics/full", &payload)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	errMsg, _ := payload["error"].(string)
	assert.True(t, strings.HasPrefix(errMsg, "internal error:"), "got %q", errMsg)
}

func TestCalendarPlacesUpcomingEvents(t *testing.T) {
	ts, _ := newTestServer(t)

	var payload struct {
		Months      []calendar.Month `json:"months"`
		GeneratedAt time.Time        `json:"generated_at"`
	}
	resp := getJSON(t, ts.URL+"/api/calendar", &payload)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, payload.Months, 5)
	assert.False(t, payload.GeneratedAt.IsZero())

	// The future event starts within 24h, so it falls inside the 5-month
	// window and must be attached exactly once.
	placed := 0
	for _, month := range payload.Months {
		for _, week := range month.Weeks {
			for _, cell := range week {
				if cell == nil || cell.Event == nil {
					continue
				}
				placed++
				assert.Equal(t, "Future Show", cell.Event.Summary)
			}
		}
	}
	assert.Equal(t, 1, placed)
}

func TestCalendarGridAnchoredUTC(t *testing.T) {
	ts, _ := newTestServer(t)

	var payload struct {
		Months      []calendar.Month `json:"months"`
		GeneratedAt time.Time        `json:"generated_at"`
	}
	getJSON(t, ts.URL+"/api/calendar", &payload)
	require.NotEmpty(t, payload.Months)

	// The first grid must be the current month in UTC, the same zone
	// placement keys are derived in.
	assert.Equal(t, calendar.MonthKey(time.Now().UTC()), payload.Months[0].Key)
	assert.Equal(t, time.UTC, payload.GeneratedAt.Location())
}

func TestCalendarMonthsParam(t *testing.T) {
	ts, _ := newTestServer(t)

	var payload struct {
		Months []calendar.Month `json:"months"`
	}
	getJSON(t, ts.URL+"/api/calendar?months=2", &payload)
	assert.Len(t, payload.Months, 2)

	// Nonsense falls back to the configured count.
	getJSON(t, ts.URL+"/api/calendar?months=banana", &payload)
	assert.Len(t, payload.Months, 5)
}
