package feed

import (
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	appLog "ragtagcal/internal/log"
)

// Fetcher retrieves the raw ICS feed over HTTP. A single attempt per call,
// no retry or backoff; failures surface immediately as *FetchError. A token
// bucket keeps bursts of cache misses from hammering the upstream.
type Fetcher struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewFetcher creates a Fetcher for the given feed URL.
func NewFetcher(url string) *Fetcher {
	return &Fetcher{
		url: url,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(1), 2),
	}
}

// Fetch performs one GET of the feed and returns the raw ICS body.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{URL: f.url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, &FetchError{URL: f.url, Err: err}
	}

	appLog.Info("feed fetch start", "url", redactURL(f.url))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: f.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: f.url, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: f.url, Err: err}
	}

	appLog.Info("feed fetch success", "url", redactURL(f.url), "bytes", len(body))
	return body, nil
}

// redactURL hides sensitive parts of a feed URL for logging purposes.
// Public Google Calendar URLs embed the calendar ID in the path.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	// Find scheme separator.
	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	// Find next slash after host.
	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}

	return u[:j] + redactedSuffix
}
